package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sethvargo/go-retry"
	"github.com/spf13/cobra"

	"github.com/talgya/war-room/internal/client"
	"github.com/talgya/war-room/internal/economy"
	"github.com/talgya/war-room/internal/game"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "show server status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := newClient().Status(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s up %s, readiness %s, %d scenarios\n",
			st.Name, st.Version, st.Uptime, st.Readiness, st.Scenarios)
		return nil
	},
}

var flagWaitFor time.Duration

// waitCmd polls the status endpoint with capped exponential backoff until
// the server answers.
var waitCmd = &cobra.Command{
	Use:   "wait",
	Short: "block until the API is ready",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c := newClient()
		ctx, cancel := context.WithTimeout(cmd.Context(), flagWaitFor)
		defer cancel()

		b := retry.NewExponential(500 * time.Millisecond)
		b = retry.WithCappedDuration(10*time.Second, b)
		err := retry.Do(ctx, b, func(ctx context.Context) error {
			if _, err := c.Status(ctx); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "not ready:", err)
				return retry.RetryableError(err)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("API at %s not ready after %s: %w", flagAPIURL, flagWaitFor, err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "ready")
		return nil
	},
}

var scenariosCmd = &cobra.Command{
	Use:   "scenarios",
	Short: "list playable scenarios",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		list, err := newClient().Scenarios(cmd.Context())
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CODE\tNAME\tPLAYERS\tTERRITORIES\tNATIONS")
		for _, s := range list {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", s.Code, s.Name, s.MaxPlayers, s.Territories, strings.Join(s.Nations, ","))
		}
		return tw.Flush()
	},
}

var flagSessionName string

var createCmd = &cobra.Command{
	Use:   "create <scenario> <host-name>",
	Short: "create a session hosted by --player",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		created, err := newClient().CreateSession(cmd.Context(), flagSessionName, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "session %s (%s) created, host player %s\n",
			created.Session.ID, created.Session.Name, created.Player.ID)
		return nil
	},
}

var joinCmd = &cobra.Command{
	Use:   "join <session> <display-name>",
	Short: "join a session as --player",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := newClient().Join(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "joined as %s (%s)\n", p.DisplayName, p.ID)
		return nil
	},
}

var assignCmd = &cobra.Command{
	Use:   "assign <session> <player> <nation>",
	Short: "assign a nation to a player (host)",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().AssignNation(cmd.Context(), args[0], args[1], args[2]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s now plays %s\n", args[1], game.NormalizeKey(args[2]))
		return nil
	},
}

var nationCmd = &cobra.Command{
	Use:   "nation <session> <nation>",
	Short: "switch the nation you are acting as",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().SetCurrentNation(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "now acting as %s\n", game.NormalizeKey(args[1]))
		return nil
	},
}

var maxPlayersCmd = &cobra.Command{
	Use:   "max-players <session> <n>",
	Short: "change the lobby seat limit (host)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := parseSeats(args[1])
		if err != nil {
			return err
		}
		s, err := newClient().SetMaxPlayers(cmd.Context(), args[0], n)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "session %s seats %d players\n", s.ID, s.MaxPlayers)
		return nil
	},
}

func parseSeats(arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("max players %q must be a positive number", arg)
	}
	return n, nil
}

var startCmd = &cobra.Command{
	Use:   "start <session>",
	Short: "start a session (host)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newClient().Start(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "session %s is %s at %s\n", s.ID, s.Status, s.Turn())
		return nil
	},
}

var finishCmd = &cobra.Command{
	Use:   "finish <session>",
	Short: "finish a session (host)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().Finish(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "session %s finished\n", args[0])
		return nil
	},
}

var lobbyCmd = &cobra.Command{
	Use:   "lobby <session>",
	Short: "show players, nations and balances",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		view, err := newClient().Lobby(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		s := view.Session
		fmt.Fprintf(out, "%s %q [%s] %s, round %d %s\n", s.ID, s.Name, s.Scenario, s.Status, s.Round, s.Phase.Title())
		fmt.Fprintf(out, "created %s\n\n", humanize.Time(s.CreatedAt))

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "PLAYER\tNAME\tHOST\tNATIONS")
		for _, p := range view.Players {
			fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", p.ID, p.DisplayName, p.IsHost, strings.Join(p.Nations, ","))
		}
		fmt.Fprintln(tw)
		writeBalances(tw, view.Factions, view.PhaseStatus)
		return tw.Flush()
	},
}

var phaseCmd = &cobra.Command{
	Use:   "phase <session> [round phase]",
	Short: "show nation readiness for a turn",
	Args:  cobra.RangeArgs(1, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var turn game.Turn
		if len(args) > 1 {
			t, err := parseTurn(args[1:])
			if err != nil {
				return err
			}
			turn = t
		}
		ps, err := newClient().PhaseStatus(cmd.Context(), args[0], turn)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "round %d %s\n", ps.Round, ps.Phase.Title())
		keys := make([]string, 0, len(ps.Nations))
		for k := range ps.Nations {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(out, "  %-12s %s\n", k, ps.Nations[k])
		}
		return nil
	},
}

var commitCmd = &cobra.Command{
	Use:   "commit <session> <nation> <round> <phase>",
	Short: "mark a nation done with the current phase",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		turn, err := parseTurn(args[2:])
		if err != nil {
			return err
		}
		res, err := newClient().Commit(cmd.Context(), args[0], args[1], turn)
		if err != nil {
			return err
		}
		printCommit(cmd.OutOrStdout(), res.Faction, res.Status, res.Unchanged)
		return nil
	},
}

var uncommitCmd = &cobra.Command{
	Use:   "uncommit <session> <nation> <round> <phase>",
	Short: "return a committed nation to draft",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		turn, err := parseTurn(args[2:])
		if err != nil {
			return err
		}
		res, err := newClient().Uncommit(cmd.Context(), args[0], args[1], turn)
		if err != nil {
			return err
		}
		printCommit(cmd.OutOrStdout(), res.Faction, res.Status, res.Unchanged)
		return nil
	},
}

var advanceCmd = &cobra.Command{
	Use:   "advance <session>",
	Short: "move to the next phase once every nation is ready (host)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := newClient().Advance(cmd.Context(), args[0])
		var apiErr *client.APIError
		if errors.As(err, &apiErr) && errors.Is(err, game.ErrNotAllCommitted) {
			return fmt.Errorf("still waiting on %s", strings.Join(apiErr.Pending, ", "))
		}
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s -> %s, %d rows locked\n", res.From, res.To, res.Locked)
		if res.LeftEconomy {
			fmt.Fprintln(out, "economy phase closed; apply income for the round if not done yet")
		}
		return nil
	},
}

var incomeCmd = &cobra.Command{
	Use:   "income",
	Short: "preview or apply round income",
}

var incomePreviewCmd = &cobra.Command{
	Use:   "preview <session>",
	Short: "show what income would pay now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := newClient().PreviewIncome(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if p.AlreadyApplied {
			fmt.Fprintf(out, "income for round %d was already applied\n", p.Round)
		}
		printReport(out, p.Report)
		fmt.Fprintln(out)
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		writeBalances(tw, p.Projected, nil)
		return tw.Flush()
	},
}

var flagIncomeRound int

var incomeApplyCmd = &cobra.Command{
	Use:   "apply <session>",
	Short: "credit round income to every nation once",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := newClient().ApplyIncome(cmd.Context(), args[0], flagIncomeRound)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if res.AlreadyApplied {
			fmt.Fprintf(out, "income for round %d was already applied; balances unchanged\n", res.Round)
		} else {
			fmt.Fprintf(out, "income for round %d applied\n", res.Round)
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		writeBalances(tw, res.Balances, nil)
		return tw.Flush()
	},
}

var flagLogLimit int

var logCmd = &cobra.Command{
	Use:   "log <session>",
	Short: "show the session's game log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := newClient().Log(cmd.Context(), args[0], flagLogLimit)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tROUND\tEVENT\tWHEN\tPAYLOAD")
		for _, e := range entries {
			fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\n", e.ID, e.Round, e.EventType, humanize.Time(e.CreatedAt), e.Payload)
		}
		return tw.Flush()
	},
}

func init() {
	createCmd.Flags().StringVar(&flagSessionName, "name", "", "session name (defaults to the scenario name)")
	waitCmd.Flags().DurationVar(&flagWaitFor, "for", 5*time.Minute, "give up after this long")
	incomeApplyCmd.Flags().IntVar(&flagIncomeRound, "round", 0, "round to apply (defaults to the current round)")
	logCmd.Flags().IntVar(&flagLogLimit, "limit", 50, "entries to show")
	incomeCmd.AddCommand(incomePreviewCmd, incomeApplyCmd)
}

// parseTurn reads "<round> <phase>".
func parseTurn(args []string) (game.Turn, error) {
	if len(args) != 2 {
		return game.Turn{}, errors.New("expected <round> <phase>")
	}
	round, err := strconv.Atoi(args[0])
	if err != nil || round < 1 {
		return game.Turn{}, fmt.Errorf("round %q must be a positive number", args[0])
	}
	phase, err := game.ParsePhase(args[1])
	if err != nil {
		return game.Turn{}, err
	}
	return game.Turn{Round: round, Phase: phase}, nil
}

func printCommit(out io.Writer, nation string, status game.PhaseStatus, unchanged bool) {
	if unchanged {
		fmt.Fprintf(out, "%s already %s\n", nation, status)
		return
	}
	fmt.Fprintf(out, "%s is now %s\n", nation, status)
}

func writeBalances(tw *tabwriter.Writer, factions []game.Faction, status map[string]game.PhaseStatus) {
	fmt.Fprintln(tw, "NATION\tOIL\tIRON\tOSR\tSTATUS")
	for _, f := range factions {
		st := "-"
		if s, ok := status[f.Key]; ok {
			st = string(s)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", f.Key,
			humanize.Comma(f.Oil), humanize.Comma(f.Iron), humanize.Comma(f.OSR), st)
	}
}

func printReport(out io.Writer, r economy.Report) {
	for _, b := range r.Breakdowns {
		fmt.Fprintf(out, "%s +%s oil +%s iron +%s osr", b.FactionKey,
			humanize.Comma(b.Totals.Oil), humanize.Comma(b.Totals.Iron), humanize.Comma(b.Totals.OSR))
		if len(b.Applied) > 0 {
			fmt.Fprintf(out, " (%v)", b.Applied)
		}
		fmt.Fprintln(out)
		for _, l := range b.Lines {
			side := "active"
			if l.UsedEmbattled {
				side = "embattled"
			}
			fmt.Fprintf(out, "    %-24s %-9s %d/%d/%d\n", l.TerritoryName, side, l.Oil, l.Iron, l.OSR)
		}
		for _, w := range b.Warnings {
			fmt.Fprintln(out, "    warning:", w)
		}
	}
	for _, w := range r.Warnings {
		fmt.Fprintln(out, "warning:", w)
	}
}
