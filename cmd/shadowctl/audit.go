package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shadowcheck/shadowcheck/internal/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the scoring audit log",
}

func init() {
	auditCmd.AddCommand(auditVerifyCmd)
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Walk the audit chain and check every hash",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := connect(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		l := audit.NewPostgresLog(db, logger)
		if err := l.Verify(ctx); err != nil {
			return fmt.Errorf("audit chain INVALID: %w", err)
		}
		st, err := audit.Inspect(ctx, l)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "audit chain valid: %d records, head %s\n", st.Records, st.Head)
		return nil
	},
}
