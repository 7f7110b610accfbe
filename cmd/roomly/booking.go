package main

import (
	"context"
	"fmt"
	"time"

	roomly "github.com/roomly-app/roomly/sdk/golang"
	"github.com/spf13/cobra"
)

var (
	cancelReason string
	createFrom   string
	createTo     string
)

func init() {
	rootCmd.AddCommand(bookingCmd)
	bookingCmd.AddCommand(bookingListCmd)
	bookingCmd.AddCommand(bookingShowCmd)
	bookingCmd.AddCommand(bookingCreateCmd)
	bookingCmd.AddCommand(bookingPayCmd)
	bookingCmd.AddCommand(bookingCancelCmd)
	bookingCmd.AddCommand(bookingActionCmd("checkin", "Check in to a paid booking", (*roomly.Coordinator).CheckIn))
	bookingCmd.AddCommand(bookingActionCmd("checkout", "Check out of a booking", (*roomly.Coordinator).CheckOut))
	bookingCmd.AddCommand(bookingActionCmd("approve", "Approve a pending booking (landlord)", (*roomly.Coordinator).Approve))

	bookingCancelCmd.Flags().StringVarP(&cancelReason, "reason", "r", "", "Cancellation reason (required once paid)")
	bookingCreateCmd.Flags().StringVar(&createFrom, "from", "", "First night, YYYY-MM-DD (required)")
	bookingCreateCmd.Flags().StringVar(&createTo, "to", "", "Checkout day, YYYY-MM-DD (required)")
	_ = bookingCreateCmd.MarkFlagRequired("from")
	_ = bookingCreateCmd.MarkFlagRequired("to")
}

var bookingCmd = &cobra.Command{
	Use:     "booking",
	Aliases: []string{"bookings"},
	Short:   "Reservations, payments and stays",
}

var bookingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your bookings",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(_ *settings, session *roomly.Session) error {
			bookings := session.Bookings()
			if err := bookings.Refresh(cmd.Context()); err != nil {
				return err
			}
			views := bookings.Views()
			if jsonOutput {
				return printJSON(views)
			}
			if len(views) == 0 {
				fmt.Println("No bookings.")
				return nil
			}
			rows := make([][]string, 0, len(views))
			for _, v := range views {
				rows = append(rows, []string{
					v.Booking.BookingID,
					v.Booking.PropertyID,
					formatDate(v.Booking.StartDate),
					formatDate(v.Booking.EndDate),
					v.StatusLabel,
					string(v.PaymentState),
				})
			}
			printTable([]string{"Booking", "Property", "From", "To", "Status", "Payment"}, rows)
			return nil
		})
	},
}

var bookingShowCmd = &cobra.Command{
	Use:   "show <booking-id>",
	Short: "Show a booking and its invoice",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(_ *settings, session *roomly.Session) error {
			view, err := session.Bookings().Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printView(view)
		})
	},
}

var bookingCreateCmd = &cobra.Command{
	Use:   "create <property-id>",
	Short: "Request a booking",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		start, err := time.Parse(time.DateOnly, createFrom)
		if err != nil {
			return fmt.Errorf("invalid --from: %w", err)
		}
		end, err := time.Parse(time.DateOnly, createTo)
		if err != nil {
			return fmt.Errorf("invalid --to: %w", err)
		}
		return withSession(func(_ *settings, session *roomly.Session) error {
			view, err := session.Bookings().CreateBooking(cmd.Context(), args[0], start, end)
			if err != nil {
				return err
			}
			return printView(view)
		})
	},
}

var bookingPayCmd = &cobra.Command{
	Use:   "pay <booking-id>",
	Short: "Pay the invoice of a booking",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(_ *settings, session *roomly.Session) error {
			bookings := session.Bookings()
			view, err := bookings.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if view.Invoice == nil {
				return fmt.Errorf("booking %s has no invoice", args[0])
			}
			if _, err := bookings.ConfirmPayment(cmd.Context(), view.Invoice.InvoiceID); err != nil {
				return err
			}
			view, err = bookings.View(args[0])
			if err != nil {
				return err
			}
			return printView(view)
		})
	},
}

var bookingCancelCmd = &cobra.Command{
	Use:   "cancel <booking-id>",
	Short: "Cancel a booking",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(_ *settings, session *roomly.Session) error {
			bookings := session.Bookings()
			if _, err := bookings.Load(cmd.Context(), args[0]); err != nil {
				return err
			}
			view, err := bookings.CancelBooking(cmd.Context(), args[0], cancelReason)
			if err != nil {
				return err
			}
			return printView(view)
		})
	},
}

type bookingAction func(*roomly.Coordinator, context.Context, string) (roomly.BookingView, error)

func bookingActionCmd(use, short string, action bookingAction) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <booking-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(_ *settings, session *roomly.Session) error {
				bookings := session.Bookings()
				if _, err := bookings.Load(cmd.Context(), args[0]); err != nil {
					return err
				}
				view, err := action(bookings, cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printView(view)
			})
		},
	}
}

func printView(v roomly.BookingView) error {
	if jsonOutput {
		return printJSON(v)
	}
	b := v.Booking
	fmt.Printf("Booking:     %s\n", valueOrDefault(b.BookingID, "(pending)"))
	fmt.Printf("Property:    %s\n", b.PropertyID)
	fmt.Printf("Dates:       %s to %s\n", formatDate(b.StartDate), formatDate(b.EndDate))
	fmt.Printf("Status:      %s\n", v.StatusLabel)
	fmt.Printf("Payment:     %s\n", v.PaymentState)
	if b.CancellationReason != "" {
		fmt.Printf("Reason:      %s\n", b.CancellationReason)
	}
	if inv := v.Invoice; inv != nil {
		fmt.Println()
		fmt.Printf("Invoice:     %s (%s)\n", inv.InvoiceID, inv.Status)
		fmt.Printf("  Total:     %s\n", formatAmount(inv.Total))
		fmt.Printf("  Due:       %s\n", formatAmount(inv.DueAmount))
		if inv.RefundableAmount > 0 {
			fmt.Printf("  Refund:    %s\n", formatAmount(inv.RefundableAmount))
		}
	}
	fmt.Println()
	fmt.Printf("Check in:    %s\n", yesNo(v.CanCheckIn))
	fmt.Printf("Check out:   %s\n", yesNo(v.CanCheckOut))
	cancel := yesNo(v.CanCancel)
	if v.CanCancel && v.CancelRequiresReason {
		cancel += " (reason required)"
	}
	fmt.Printf("Cancel:      %s\n", cancel)
	if v.ReviewEligible {
		fmt.Printf("Review:      %s\n", success("eligible"))
	}
	return nil
}
