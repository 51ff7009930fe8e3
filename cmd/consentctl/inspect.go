package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"forwardgate/internal/bootstrap"
	"forwardgate/internal/types"
)

type inspectOutput struct {
	SenderID    string                    `json:"sender_id"`
	Recipient   string                    `json:"recipient"`
	Mode        types.EffectiveMode       `json:"mode"`
	Outcome     types.GateOutcome         `json:"outcome"`
	Record      *types.VerificationRecord `json:"record,omitempty"`
	LivePending int                       `json:"live_pending"`
}

func inspectCmd() *cobra.Command {
	var sender, recipient string
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show the effective consent mode for a sender and recipient",
		Long: "Evaluates the ledger for one pair without creating records or " +
			"sending confirmations.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStack(cmd.Context(), func(s *bootstrap.Stack) error {
				eval, err := s.Ledger.Inspect(cmd.Context(), sender, recipient)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(inspectOutput{
					SenderID:    sender,
					Recipient:   types.NormalizeAddress(recipient),
					Mode:        eval.Mode,
					Outcome:     types.OutcomeFor(eval.Mode),
					Record:      eval.Record,
					LivePending: eval.LivePending,
				})
			})
		},
	}
	cmd.Flags().StringVar(&sender, "sender", "", "requesting sender id")
	cmd.Flags().StringVar(&recipient, "recipient", "", "recipient email address")
	_ = cmd.MarkFlagRequired("sender")
	_ = cmd.MarkFlagRequired("recipient")
	return cmd
}
