package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"pasantias-monitor/internal/infra/config"
	applog "pasantias-monitor/internal/infra/log"
)

// cli хранит общее для всех команд состояние.
type cli struct {
	envFile string
	cfg     config.AppConfig
	log     zerolog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "monitor",
		Short: "Monitor de ofertas de pasantías de la Facultad de Derecho (UBA)",
		Long: `monitor descarga la página de pasantías, detecta ofertas nuevas
y envía avisos a los destinatarios configurados.

Comandos:
  check-once     una verificación y salir
  status         estado del monitor y últimas notificaciones
  test-notify    enviar una oferta de ejemplo sin tocar el almacenamiento
  run-scheduled  verificaciones periódicas según CHECK_CRON o CHECK_INTERVAL`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFiles(c.envFile)...)
			if err != nil {
				return err
			}
			c.cfg = cfg
			c.log = applog.NewLogger(cfg.AppEnv)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.envFile, "env-file", "", "archivo .env (por defecto ./.env si existe)")

	root.AddCommand(
		c.checkOnceCmd(),
		c.statusCmd(),
		c.testNotifyCmd(),
		c.runScheduledCmd(),
	)
	return root
}

func envFiles(path string) []string {
	if path == "" {
		return nil
	}
	return []string{path}
}
