package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mihaimyh/bookingsync/pkg/bookingsync"
	"github.com/mihaimyh/bookingsync/pkg/confirm"
)

func confirmCmd(envFile *string) *cobra.Command {
	var bookingID string

	cmd := &cobra.Command{
		Use:   "confirm",
		Short: "Re-run the confirmation for a stored booking",
		Long: `Re-run the confirmation path for a stored booking and print the result.
Nothing is sent when the confirmation email already went out.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bookingID = strings.TrimSpace(bookingID)
			if bookingID == "" {
				return errors.New("--booking-id is required")
			}

			cfg, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			resp, err := runConfirm(cmd, a, bookingID)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}

	cmd.Flags().StringVar(&bookingID, "booking-id", "", "booking to confirm")
	return cmd
}

// runConfirm refuses unknown bookings: the HTTP endpoint synthesizes them from
// client data, which an operator does not have.
func runConfirm(cmd *cobra.Command, a *app, bookingID string) (*confirm.Response, error) {
	if _, err := a.store.GetBooking(cmd.Context(), bookingID); err != nil {
		if errors.Is(err, bookingsync.ErrBookingNotFound) {
			return nil, fmt.Errorf("booking %s not found", bookingID)
		}
		return nil, fmt.Errorf("failed to load booking %s: %w", bookingID, err)
	}
	return a.confirm.Confirm(cmd.Context(), confirm.Request{BookingID: bookingID})
}
