package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/auth"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/clinic"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/schedule"
	"github.com/hackgods/clinic-scheduling/internal/timerange"
)

// app holds what every subcommand needs once the root command has connected.
type app struct {
	cfg    config.Config
	logger zerolog.Logger
	pool   *pgxpool.Pool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "schedctl",
		Short:         "Operator tooling for the clinic scheduling engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logging.Init("schedctl", cfg.Env, cfg.LogLevel)
			cmd.SetContext(a.logger.WithContext(cmd.Context()))

			connectCtx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			a.pool, err = db.ConnectPostgres(connectCtx, cfg.PostgresDSN)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.pool != nil {
				a.pool.Close()
			}
		},
	}

	root.AddCommand(migrateCmd(a), slotsCmd(a), availabilityCmd(a), purgeCmd(a))
	return root
}

func migrateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := db.MigrationFiles()
			if err != nil {
				return err
			}
			if dry, _ := cmd.Flags().GetBool("dry-run"); dry {
				for _, f := range files {
					fmt.Fprintln(cmd.OutOrStdout(), f)
				}
				return nil
			}
			if err := db.Migrate(cmd.Context(), a.pool); err != nil {
				return err
			}
			a.logger.Info().Int("files", len(files)).Msg("migrations applied")
			return nil
		},
	}
	cmd.Flags().Bool("dry-run", false, "List migration files without applying them")
	return cmd
}

func slotsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Print the free slots of a doctor on one date",
		RunE: func(cmd *cobra.Command, args []string) error {
			doctorID, clinicID, err := doctorAndClinic(cmd)
			if err != nil {
				return err
			}
			date, err := dateFlag(cmd, "date")
			if err != nil {
				return err
			}
			duration, _ := cmd.Flags().GetInt("duration")

			slots, err := a.resolver().ComputeSlots(cmd.Context(), doctorID, date, clinicID, duration)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(slots) == 0 {
				fmt.Fprintf(out, "no free slots on %s\n", timerange.FormatDate(date))
				return nil
			}
			for _, s := range slots {
				source := "doctor"
				if s.Inherited {
					source = "clinic"
				}
				fmt.Fprintf(out, "%s-%s\t%s\n", s.StartTime, s.EndTime, source)
			}
			return nil
		},
	}
	cmd.Flags().String("doctor", "", "Doctor ID")
	cmd.Flags().String("clinic", "", "Clinic ID")
	cmd.Flags().String("date", "", "Date as YYYY-MM-DD")
	cmd.Flags().Int("duration", 30, "Slot length in minutes")
	_ = cmd.MarkFlagRequired("doctor")
	_ = cmd.MarkFlagRequired("clinic")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func availabilityCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "availability",
		Short: "Print which days in a range have at least one free slot",
		RunE: func(cmd *cobra.Command, args []string) error {
			doctorID, clinicID, err := doctorAndClinic(cmd)
			if err != nil {
				return err
			}
			from, err := dateFlag(cmd, "from")
			if err != nil {
				return err
			}
			to, err := dateFlag(cmd, "to")
			if err != nil {
				return err
			}

			days, err := a.resolver().AvailabilityRange(cmd.Context(), doctorID, clinicID, from, to)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, d := range days {
				mark := "-"
				if d.Available {
					mark = "available"
				}
				fmt.Fprintf(out, "%s\t%s\t%s\n", timerange.FormatDate(d.Date), d.Date.Weekday(), mark)
			}
			return nil
		},
	}
	cmd.Flags().String("doctor", "", "Doctor ID")
	cmd.Flags().String("clinic", "", "Clinic ID")
	cmd.Flags().String("from", "", "First date as YYYY-MM-DD")
	cmd.Flags().String("to", "", "Last date as YYYY-MM-DD")
	for _, name := range []string{"doctor", "clinic", "from", "to"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func purgeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge <appointment-id>...",
		Short: "Permanently delete soft-deleted appointments",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetString("actor")
			actorID, err := uuid.Parse(raw)
			if err != nil {
				return fmt.Errorf("invalid --actor: %w", err)
			}
			actor := auth.Actor{UserID: actorID, Role: auth.RoleAdmin}
			svc := a.appointments()

			var errs []error
			for _, arg := range args {
				id, err := uuid.Parse(arg)
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", arg, err))
					continue
				}
				if err := svc.Purge(cmd.Context(), actor, id); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", id, err))
					continue
				}
				a.logger.Info().Stringer("appointment_id", id).Stringer("actor_id", actorID).Msg("appointment purged")
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().String("actor", "", "User ID recorded as the purging global admin")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func (a *app) settings() *clinic.PgSettingsProvider {
	return clinic.NewPgSettingsProvider(a.pool, a.cfg.DefaultSlotMinutes)
}

func (a *app) resolver() *availability.Resolver {
	return availability.NewResolver(schedule.NewPgStore(a.pool), appointment.NewPgRepository(a.pool), a.settings())
}

func (a *app) appointments() *appointment.Service {
	dir := appointment.NewPgDirectory(a.pool)
	return appointment.NewService(appointment.NewPgRepository(a.pool), dir, dir, a.settings(), auth.DefaultRolePolicy())
}

func doctorAndClinic(cmd *cobra.Command) (doctorID, clinicID uuid.UUID, err error) {
	raw, _ := cmd.Flags().GetString("doctor")
	if doctorID, err = uuid.Parse(raw); err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid --doctor: %w", err)
	}
	raw, _ = cmd.Flags().GetString("clinic")
	if clinicID, err = uuid.Parse(raw); err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid --clinic: %w", err)
	}
	return doctorID, clinicID, nil
}

func dateFlag(cmd *cobra.Command, name string) (time.Time, error) {
	raw, _ := cmd.Flags().GetString(name)
	d, err := timerange.ParseDate(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s: %w", name, err)
	}
	return d, nil
}
