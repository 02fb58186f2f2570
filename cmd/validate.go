package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pescn/psy-data-gen/coreengine/bootstrap"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check a settings file without calling the model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := bootstrap.Load(configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "settings ok: model=%s sessions=%d concurrency=%d personas=%s",
				s.LLM.Model, s.Batch.Sessions, s.Batch.Concurrency, s.Background.Source)
			switch s.Background.Source {
			case bootstrap.PersonaSourceFixed:
				fmt.Fprintf(out, " student=%s counselor=%s", s.Student.Name, s.Counselor.Name)
			case bootstrap.PersonaSourcePool:
				fmt.Fprintf(out, " pool=%d", len(s.Background.Pool))
			case bootstrap.PersonaSourceGenerate:
				fmt.Fprintf(out, " issues=%d", len(s.Background.Issues))
			}
			fmt.Fprintln(out)
			return nil
		},
	}
}
