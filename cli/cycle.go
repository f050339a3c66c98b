package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func init() {
	runCycle := &cobra.Command{
		Use:   "run-cycle",
		Short: "Dispatch every reminder due now and print the summary",
		Run:   runRunCycle,
	}
	followUp := &cobra.Command{
		Use:   "follow-up",
		Short: "Retry failed deliveries and notify family of exhausted ones",
		Run:   runFollowUp,
	}
	nextDue := &cobra.Command{
		Use:   "next-due <reminder-id>",
		Short: "Show when a reminder fires next",
		Args:  cobra.ExactArgs(1),
		Run:   runNextDue,
	}

	RootCmd.AddCommand(runCycle, followUp, nextDue)
}

func runRunCycle(cmd *cobra.Command, args []string) {
	a, err := bootstrap()
	if err != nil {
		exitErr("bootstrap", err)
	}
	defer a.close()

	res, err := a.service.RunCycle(cmd.Context(), a.service.Now())
	if err != nil {
		exitErr("run cycle", err)
	}
	printJSON(res)
}

func runFollowUp(cmd *cobra.Command, args []string) {
	a, err := bootstrap()
	if err != nil {
		exitErr("bootstrap", err)
	}
	defer a.close()

	res, err := a.service.FollowUp(cmd.Context(), a.service.Now())
	if err != nil {
		exitErr("follow-up", err)
	}
	printJSON(res)
}

func runNextDue(cmd *cobra.Command, args []string) {
	id, err := uuid.Parse(args[0])
	if err != nil {
		exitErr("parse reminder id", err)
	}

	a, err := bootstrap()
	if err != nil {
		exitErr("bootstrap", err)
	}
	defer a.close()

	now := a.service.Now()
	at, ok, err := a.service.PreviewNextDue(cmd.Context(), id, now)
	if err != nil {
		exitErr("next due", err)
	}

	out := map[string]interface{}{"reminderId": id, "now": now, "due": ok}
	if ok {
		out["nextDue"] = at
	} else {
		out["nextDue"] = nil
	}
	printJSON(out)
	if !ok {
		fmt.Fprintln(cmd.ErrOrStderr(), "nothing due yet")
	}
}
