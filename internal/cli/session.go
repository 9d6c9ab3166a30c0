package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"live-survey-service/internal/config"
)

// NewSessionCmd groups the organizer commands. They only make sense against a shared Redis store.
func NewSessionCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Create, attach or tear down survey sessions",
	}

	var surveyID string
	create := &cobra.Command{
		Use:   "create [session-id]",
		Short: "Create a session, optionally with a survey attached",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd, *configPath)
			if err != nil {
				return err
			}
			defer rt.Close()
			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			session, err := rt.service.CreateSession(cmd.Context(), id, surveyID)
			if err != nil {
				return err
			}
			return printJSON(cmd, session)
		},
	}
	create.Flags().StringVar(&surveyID, "survey", "", "survey to attach")

	attach := &cobra.Command{
		Use:   "attach <session-id> <survey-id>",
		Short: "Attach a survey to a session that has not started",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd, *configPath)
			if err != nil {
				return err
			}
			defer rt.Close()
			session, err := rt.service.AttachSurvey(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd, session)
		},
	}

	teardown := &cobra.Command{
		Use:   "teardown <session-id>",
		Short: "Delete a session with its participants and results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd, *configPath)
			if err != nil {
				return err
			}
			defer rt.Close()
			return rt.service.Teardown(cmd.Context(), args[0])
		},
	}

	cmd.AddCommand(create, attach, teardown)
	return cmd
}

func openRuntime(cmd *cobra.Command, configPath string) (*runtime, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, err
	}
	return buildRuntime(cmd.Context(), cfg)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
