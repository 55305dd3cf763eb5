package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tendant/simple-idm-stepflow/pkg/domain"
	"github.com/tendant/simple-idm-stepflow/pkg/settings"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change which optional steps are enabled",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current authentication settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *session) error {
			svc, err := settingsService(ctx, s)
			if err != nil {
				return err
			}
			return printSettings(cmd.OutOrStdout(), svc.Current(ctx))
		})
	},
}

var (
	setOTP        bool
	setOnboarding bool
)

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Set one or both step toggles",
	Example: `  stepflowctl settings set --otp=false
  stepflowctl settings set --otp --onboarding=false`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		otpChanged := cmd.Flags().Changed("otp")
		onboardingChanged := cmd.Flags().Changed("onboarding")
		if !otpChanged && !onboardingChanged {
			return errors.New("at least one of --otp or --onboarding is required")
		}
		return withSession(cmd, func(ctx context.Context, s *session) error {
			svc, err := settingsService(ctx, s)
			if err != nil {
				return err
			}
			var otp, onboarding *bool
			if otpChanged {
				otp = &setOTP
			}
			if onboardingChanged {
				onboarding = &setOnboarding
			}
			updated, err := svc.Apply(ctx, otp, onboarding)
			if err != nil {
				return err
			}
			return printSettings(cmd.OutOrStdout(), updated)
		})
	},
}

var settingsEnableCmd = &cobra.Command{
	Use:       "enable <otp|onboarding>",
	Short:     "Enable an optional step",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"otp", "onboarding"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return toggle(cmd, args[0], true)
	},
}

var settingsDisableCmd = &cobra.Command{
	Use:       "disable <otp|onboarding>",
	Short:     "Disable an optional step",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"otp", "onboarding"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return toggle(cmd, args[0], false)
	},
}

func toggle(cmd *cobra.Command, step string, enabled bool) error {
	return withSession(cmd, func(ctx context.Context, s *session) error {
		svc, err := settingsService(ctx, s)
		if err != nil {
			return err
		}
		var updated *domain.AuthSettings
		switch step {
		case "otp":
			updated, err = svc.SetOTPEnabled(ctx, enabled)
		case "onboarding":
			updated, err = svc.SetOnboardingEnabled(ctx, enabled)
		default:
			return fmt.Errorf("unknown step %q", step)
		}
		if err != nil {
			return err
		}
		return printSettings(cmd.OutOrStdout(), updated)
	})
}

func settingsService(ctx context.Context, s *session) (*settings.Service, error) {
	svc := settings.NewService(s.stores.Settings, settings.Config{
		CacheTTL:                 s.cfg.SettingsCacheTTL,
		DefaultOTPEnabled:        s.cfg.DefaultOTPEnabled,
		DefaultOnboardingEnabled: s.cfg.DefaultOnboardingEnabled,
	}, s.logger)
	if _, err := svc.Initialize(ctx); err != nil {
		return nil, err
	}
	return svc, nil
}

func printSettings(w io.Writer, a *domain.AuthSettings) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		*domain.AuthSettings
		Flow string `json:"flow_description"`
	}{a, a.FlowDescription()})
}

func init() {
	settingsSetCmd.Flags().BoolVar(&setOTP, "otp", false, "enable the one-time password step")
	settingsSetCmd.Flags().BoolVar(&setOnboarding, "onboarding", false, "enable the onboarding step")

	settingsCmd.AddCommand(settingsShowCmd, settingsSetCmd, settingsEnableCmd, settingsDisableCmd)
	rootCmd.AddCommand(settingsCmd)
}
