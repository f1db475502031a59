package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/ayusman/spellcast/internal/app"
	"github.com/ayusman/spellcast/internal/capture"
	"github.com/ayusman/spellcast/internal/classifier"
	"github.com/ayusman/spellcast/internal/config"
	"github.com/ayusman/spellcast/internal/logging"
	"github.com/ayusman/spellcast/internal/plugin"
	"github.com/ayusman/spellcast/internal/presentation"
	"github.com/ayusman/spellcast/internal/server"
	"github.com/ayusman/spellcast/internal/session"
	"github.com/ayusman/spellcast/internal/store"
	"github.com/ayusman/spellcast/internal/tray"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "spellcast: %v\n", err)
		os.Exit(2)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Dev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "spellcast: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("spellcast failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	st, err := store.New(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	defer st.Close()

	if n, err := st.Spells().Seed(presentation.DefaultSpells()); err != nil {
		return fmt.Errorf("seed spells: %w", err)
	} else if n > 0 {
		logger.Info("seeded default spells", zap.Int("count", n))
	}

	loader, err := classifier.NewLoader(classifier.LoaderConfig{
		Backend:           cfg.Model.Backend,
		ONNXLibraryPath:   cfg.Model.ONNXLibrary,
		SubprocessCommand: cfg.Model.Command,
		Client:            http.DefaultClient,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	plugins := plugin.NewManager(cfg.PluginDir, logger)
	camera := capture.NewCamera(cfg.Camera.Device)

	application := app.New(app.Config{
		Store:     st,
		Camera:    camera,
		CameraFPS: cfg.Camera.FPS,
		Loader:    loader,
		ModelURL:  cfg.Model.URL,
		Session: session.Config{
			PollInterval:     cfg.Loop.PollInterval,
			NotReadyDelay:    cfg.Loop.NotReadyDelay,
			ErrorBackoff:     cfg.Loop.ErrorBackoff,
			ModelRetryDelay:  cfg.Loop.ModelRetryDelay,
			ModelLoadTimeout: cfg.Model.LoadTimeout,
		},
		Plugins:  plugins,
		Executor: plugin.NewExecutor(int(cfg.Plugin.Timeout.Milliseconds())),
		Logger:   logger,
	})

	if err := application.DiscoverPlugins(); err != nil {
		logger.Warn("plugin discovery failed", zap.Error(err))
	}

	hub := server.NewStateHub(nil, logger)
	if err := application.AddRenderer(hub); err != nil {
		return fmt.Errorf("load spells: %w", err)
	}

	var t *tray.Tray
	if cfg.Tray {
		t = tray.New()
		if err := application.AddRenderer(t); err != nil {
			return err
		}
	}

	webDir := cfg.WebDir
	if webDir == "" {
		webDir = findWebDir(cfg.DataDir)
	}
	if webDir != "" {
		logger.Info("serving static files", zap.String("dir", webDir))
	}

	srv := server.New(server.Config{
		StaticDir: webDir,
		Store:     st,
		Camera:    camera,
		Hub:       hub,
		Plugins:   plugins,
		Reload:    application.Reload,
		Status:    application.Status,
		Logger:    logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe(ctx, cfg.Addr)
		stop()
	}()

	// The page stays up after an initialization failure so the error is
	// visible there.
	if err := application.Start(ctx); err != nil {
		var initErr *session.InitializationError
		if !errors.As(err, &initErr) {
			return err
		}
	}
	defer application.Stop()

	if t != nil {
		t.OnToggle(application.SetEnabled)
		t.OnSettings(func() {
			openBrowser(logger, pageURL(cfg.Addr))
		})
		t.OnQuit(stop)

		go func() {
			<-ctx.Done()
			t.Quit()
		}()

		// systray needs the main thread.
		t.Run()
		stop()
	}

	<-ctx.Done()
	return <-serveErr
}

func pageURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + "/"
}

func openBrowser(logger *zap.Logger, url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		logger.Warn("could not open browser", zap.String("url", url), zap.Error(err))
	}
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and <dataDir>/web.
// Returns the first existing directory or empty string if none found.
func findWebDir(dataDir string) string {
	relativePaths := []string{"web", "../web", "../../web"}
	for _, p := range relativePaths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			absPath, err := filepath.Abs(p)
			if err == nil {
				return absPath
			}
			return p
		}
	}

	dataWebDir := filepath.Join(dataDir, "web")
	if info, err := os.Stat(dataWebDir); err == nil && info.IsDir() {
		return dataWebDir
	}

	return ""
}
