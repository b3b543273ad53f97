package commands

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	tele "gopkg.in/telebot.v4"
	"log/slog"

	"github.com/m3rciful/telemenu/core/bootstrap"
	"github.com/m3rciful/telemenu/core/buildinfo"
	corecmd "github.com/m3rciful/telemenu/core/cmd"
	coreconfig "github.com/m3rciful/telemenu/core/config"
	"github.com/m3rciful/telemenu/core/logger"
	"github.com/m3rciful/telemenu/core/storage"
	coretelegram "github.com/m3rciful/telemenu/core/telegram"
	"github.com/m3rciful/telemenu/core/telegram/commands"
	"github.com/m3rciful/telemenu/core/telegram/format"
	"github.com/m3rciful/telemenu/menu"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the demo menu bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			if envFile != "" {
				if err := godotenv.Load(envFile); err != nil {
					log.Printf("env file %s not loaded: %v", envFile, err)
				}
			}
			return corecmd.Run(corecmd.Options{
				ConfigEnvVar:      "CONFIG_PATH",
				DefaultConfigPath: configPath,
				LoadConfig:        loadConfig,
				Bootstrap:         bootstrapApp,
			})
		},
	}
}

// demoApp carries everything the Telegram runtime needs to serve the demo.
type demoApp struct {
	cfg      *coreconfig.Config
	store    storage.Store
	manager  *menu.SessionManager
	health   *healthServer
	buildErr error
}

func (a *demoApp) CoreConfig() *coreconfig.Config { return a.cfg }

func loadConfig(path string) (corecmd.ConfigCarrier, error) {
	cfg, err := coreconfig.Load(path)
	if err != nil {
		return nil, err
	}
	return &demoApp{cfg: cfg}, nil
}

func bootstrapApp(carrier corecmd.ConfigCarrier) (corecmd.TelegramApp, error) {
	app, ok := carrier.(*demoApp)
	if !ok {
		return nil, fmt.Errorf("unexpected config carrier %T", carrier)
	}
	res, err := bootstrap.Run(context.Background(), bootstrap.Options{Config: app.cfg})
	if err != nil {
		return nil, err
	}
	app.store = res.Store
	return app, nil
}

// TelegramRunOptions wires the menu session manager into the bot runtime.
// The manager is built inside RouteProvider because the messenger needs
// the live bot; OnStart then restores persisted sessions and starts the
// expiry sweeper and health endpoint.
func (a *demoApp) TelegramRunOptions() (coretelegram.RunOptions, error) {
	cfg := a.cfg
	reg := coretelegram.NewRegistry()
	hub := newUpdateHub()
	a.health = newHealthServer(healthAddr)

	return coretelegram.RunOptions{
		Config:      cfg,
		Registry:    reg,
		Middlewares: coretelegram.DefaultMiddlewares(cfg, nil),
		RouteProvider: func(rt coretelegram.Runtime) []coretelegram.Route {
			manager, err := menu.NewSessionManager(menu.ManagerOptions{
				Messenger:      menu.NewMessenger(rt.Bot, rt.Dispatcher),
				Factory:        demoScreens(hub),
				Store:          a.store,
				Registry:       reg,
				DefaultExpiry:  time.Duration(cfg.Menu.ExpirySeconds) * time.Second,
				SweepInterval:  time.Duration(cfg.Menu.SweepSeconds) * time.Second,
				DefaultPicture: cfg.Menu.DefaultPicture,
			})
			if err != nil {
				a.buildErr = err
				return nil
			}
			a.manager = manager
			registerCommands(reg, manager)
			return manager.Routes()
		},
		OnStart: func(ctx context.Context, rt coretelegram.Runtime) error {
			if a.buildErr != nil {
				return a.buildErr
			}
			if a.manager == nil {
				return errors.New("menudemo: session manager not built")
			}
			if _, err := a.manager.Restore(ctx); err != nil {
				logger.BOOT.LogAttrs(ctx, slog.LevelWarn, "session.restore.partial",
					slog.String("err", err.Error()),
				)
			}
			a.manager.StartSweeper(ctx)
			go hub.Run(ctx, time.Minute)
			a.health.Start()
			return nil
		},
		OnStop: func(ctx context.Context, rt coretelegram.Runtime) error {
			a.health.Stop(ctx)
			if a.store != nil {
				return a.store.Close()
			}
			return nil
		},
	}, nil
}

// registerCommands adds the demo's slash commands. Broadcast stays admin
// only and therefore hidden from the public command menu.
func registerCommands(reg *coretelegram.Registry, manager *menu.SessionManager) {
	reg.RegisterCommand("/broadcast", commands.Command{
		Description: "Send a message to every active session",
		AdminOnly:   true,
		Handler: func(c tele.Context) error {
			text := ""
			if c.Message() != nil {
				text = strings.TrimSpace(c.Message().Payload)
			}
			if text == "" {
				return c.Send("Usage: /broadcast <text>")
			}
			return manager.Broadcast(context.Background(), format.EscapeHTML(text))
		},
	})

	reg.RegisterCommand("/about", commands.Command{
		Description: "Show bot info",
		Aliases:     []string{"info"},
		Handler: func(c tele.Context) error {
			body := format.FormatListToHTML([]format.ListItem{
				{Title: "menudemo", Value: buildinfo.Version},
				{Title: "Sessions", Value: fmt.Sprintf("%d", manager.Count())},
			})
			return c.Send(body, tele.ModeHTML)
		},
	})
}
