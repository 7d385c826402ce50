package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"pasantias-monitor/internal/adapters/fetcher"
	"pasantias-monitor/internal/domain"
	apphttp "pasantias-monitor/internal/infra/http"
	"pasantias-monitor/internal/infra/metrics"
	"pasantias-monitor/internal/usecase/cycle"
	"pasantias-monitor/internal/usecase/schedule"
)

func (c *cli) checkOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-once",
		Short: "Una verificación: descargar, comparar, notificar y guardar",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), c.cfg, c.log)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.controller.RunCycle(cmd.Context())
			var warn *domain.DiffWarning
			if errors.As(err, &warn) {
				fmt.Fprintf(cmd.OutOrStdout(), "Verificación omitida: %s. El estado guardado no cambió.\n", warn.Reason)
				return nil
			}
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
}

func (c *cli) statusCmd() *cobra.Command {
	var lastN int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Estado del monitor y últimas notificaciones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openStoreOnly(cmd.Context(), c.cfg, c.log)
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.controller.Status(cmd.Context(), lastN)
			if err != nil {
				return err
			}
			out := statusOutput{Status: st}
			if next, err := schedule.NextRun(scheduleConfig(c.cfg), time.Now()); err == nil {
				out.NextCheckAt = &next
			}
			if err := c.cfg.Validate(); err != nil {
				out.ConfigError = err.Error()
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}
			printStatus(cmd.OutOrStdout(), out, time.Now())
			return nil
		},
	}
	cmd.Flags().IntVar(&lastN, "last", 10, "cantidad de notificaciones recientes a mostrar")
	cmd.Flags().BoolVar(&asJSON, "json", false, "salida en JSON")
	return cmd
}

func (c *cli) testNotifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Enviar una oferta de ejemplo a todos los destinatarios",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.cfg.Validate(); err != nil {
				return fmt.Errorf("конфигурация: %w", err)
			}
			a := &app{cfg: c.cfg, log: c.log}
			defer a.Close()
			d, err := a.buildDispatcher(cmd.Context(), nil)
			if err != nil {
				return err
			}
			records, err := d.Dispatch(cmd.Context(), "test-notify", []domain.Notice{{Offer: sampleOffer(time.Now()), Event: domain.EventNew}}, nil)
			if err != nil {
				return err
			}
			failed := 0
			for _, r := range records {
				line := fmt.Sprintf("%-8s %-12s %s", r.Outcome, r.Channel, r.Recipient)
				if r.Error != "" {
					line += "  " + r.Error
					failed++
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			if failed > 0 {
				return fmt.Errorf("тестовое уведомление не доставлено %d получателям", failed)
			}
			return nil
		},
	}
}

func (c *cli) runScheduledCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-scheduled",
		Short: "Verificaciones periódicas hasta recibir SIGINT o SIGTERM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, c.cfg, c.log)
			if err != nil {
				return err
			}
			defer a.Close()

			svc, err := schedule.NewService(a.controller, scheduleConfig(c.cfg), c.log)
			if err != nil {
				return err
			}
			// Сигнал останавливает планировщик, но идущая проверка доводится до конца.
			if err := svc.Start(context.WithoutCancel(ctx)); err != nil {
				return err
			}

			var server *apphttp.Server
			serverErr := make(chan error, 1)
			if c.cfg.HTTPAddr != "" {
				metrics.MustRegister(prometheus.DefaultRegisterer)
				server = apphttp.NewServer(a.controller, apphttp.Options{CheckToken: c.cfg.CheckToken, Next: svc.Next}, c.log)
				go func() { serverErr <- server.Start(c.cfg.HTTPAddr) }()
			}

			select {
			case <-ctx.Done():
				c.log.Info().Msg("monitor: получен сигнал остановки")
			case err = <-serverErr:
				if err != nil {
					c.log.Error().Err(err).Msg("monitor: HTTP сервер остановился")
				}
			}

			if server != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					c.log.Warn().Err(err).Msg("monitor: HTTP сервер остановлен с ошибкой")
				}
			}
			svc.Stop()
			return err
		},
	}
}

// statusOutput: то, что печатает команда status.
type statusOutput struct {
	cycle.Status
	NextCheckAt *time.Time `json:"next_check_at,omitempty"`
	ConfigError string    `json:"config_error,omitempty"`
}

func printReport(w io.Writer, r cycle.Report) {
	fmt.Fprintf(w, "Verificación %s (%s)\n", r.CycleID, r.Duration.Round(time.Millisecond))
	if r.Baseline {
		fmt.Fprintln(w, "Primera ejecución: ofertas registradas sin enviar avisos.")
	}
	fmt.Fprintf(w, "  Ofertas en la página: %d (inválidas: %d)\n", r.Fetched, r.Invalid)
	fmt.Fprintf(w, "  Nuevas: %d  Actualizadas: %d  Sin cambios: %d\n", r.New, r.Updated, r.Unchanged)
	fmt.Fprintf(w, "  Ausentes: %d  Eliminadas: %d\n", r.RemovalCandidates, r.Removed)
	fmt.Fprintf(w, "  Avisos enviados: %d  Fallidos: %d  Reintentos: %d\n", r.Sent, r.Failed, r.Retried)
	fmt.Fprintf(w, "  Ofertas seguidas: %d\n", r.Offers)
}

func printStatus(w io.Writer, out statusOutput, now time.Time) {
	fmt.Fprintln(w, "Estado del monitor de pasantías")
	if out.LastCheckAt.IsZero() {
		fmt.Fprintln(w, "  Última verificación: nunca")
	} else {
		fmt.Fprintf(w, "  Última verificación: %s (hace %s)\n", out.LastCheckAt.Local().Format("02/01/2006 15:04"), now.Sub(out.LastCheckAt).Round(time.Minute))
	}
	fmt.Fprintf(w, "  Ofertas seguidas: %d (ausentes en la última verificación: %d)\n", out.Offers, out.PendingRemove)
	if out.NextCheckAt != nil {
		fmt.Fprintf(w, "  Próxima verificación: %s\n", out.NextCheckAt.Format("02/01/2006 15:04 MST"))
	}
	fmt.Fprintf(w, "  Avisos: %d enviados, %d fallidos\n", out.Sent, out.Failed)
	if out.ConfigError != "" {
		fmt.Fprintf(w, "  Configuración inválida: %s\n", out.ConfigError)
	} else {
		fmt.Fprintln(w, "  Configuración: OK")
	}
	if len(out.Recent) == 0 {
		return
	}
	fmt.Fprintln(w, "Últimas notificaciones:")
	for _, r := range out.Recent {
		line := fmt.Sprintf("  %s  %-7s %-16s %-28s %s", r.AttemptedAt.Local().Format("02/01 15:04"), r.Outcome, r.Event, r.Key, r.Recipient)
		if r.Error != "" {
			line += "  (" + r.Error + ")"
		}
		fmt.Fprintln(w, line)
	}
}

// sampleOffer: оферта для test-notify.
func sampleOffer(now time.Time) domain.Offer {
	offer, _ := domain.Normalize(domain.RawOffer{
		SearchNumber: "9999",
		PostingDate:  now.Format("2-1-2006"),
		Department:   "Oferta de prueba - Estudio jurídico",
		Schedule:     "Lunes a viernes de 9 a 13 hs",
		Stipend:      "350.000",
		DetailURL:    fetcher.DefaultListingURL,
	}, now)
	return offer
}
