// Command roundctl drives contribution rounds through the HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ZanzyTHEbar/contrib-rounds/internal/leaderboard"
	"github.com/ZanzyTHEbar/contrib-rounds/internal/ledger"
	"github.com/ZanzyTHEbar/contrib-rounds/internal/types"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdout).RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

var credentialFlags = []cli.Flag{
	&cli.StringFlag{
		Name:     "address",
		Usage:    "ledger address signing the operation",
		EnvVars:  []string{"ROUNDCTL_ADDRESS"},
		Required: true,
	},
	&cli.StringFlag{
		Name:     "key",
		Usage:    "hex private key deriving --address",
		EnvVars:  []string{"ROUNDCTL_PRIVATE_KEY"},
		Required: true,
	},
}

func credential(c *cli.Context) types.Credential {
	return types.Credential{Address: c.String("address"), PrivateKey: c.String("key")}
}

func withCredential(flags ...cli.Flag) []cli.Flag {
	return append(append([]cli.Flag{}, credentialFlags...), flags...)
}

var repoFlag = &cli.StringFlag{
	Name:     "repo",
	Aliases:  []string{"r"},
	Usage:    "repository in owner/name form",
	EnvVars:  []string{"ROUNDCTL_REPO"},
	Required: true,
}

func newApp(out io.Writer) *cli.App {
	var (
		client *apiClient
		u      *ui
	)

	return &cli.App{
		Name:      "roundctl",
		Usage:     "start, vote on, finalize and inspect contribution rounds",
		Writer:    out,
		ErrWriter: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Value:   "http://localhost:8080",
				Usage:   "API base URL",
				EnvVars: []string{"ROUNDCTL_SERVER"},
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: 5 * time.Minute,
				Usage: "request timeout; ledger operations wait for mined transactions",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "print raw JSON responses",
			},
		},
		Before: func(c *cli.Context) error {
			client = newAPIClient(c.String("server"), c.Duration("timeout"))
			u = &ui{out: out, json: c.Bool("json")}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "start",
				Usage: "start a round for a repository, or resume one whose registration did not complete",
				Flags: withCredential(repoFlag),
				Action: func(c *cli.Context) error {
					var resp types.StartRoundResponse
					err := client.do(c.Context, http.MethodPost, "/rounds", types.StartRoundRequest{
						Repository: c.String("repo"),
						Admin:      credential(c),
					}, &resp)
					if err != nil {
						return err
					}
					if done, err := u.emit(resp); done {
						return err
					}

					verb := "Started"
					if resp.Resumed {
						verb = "Resumed"
					}
					u.success("%s round %d (%s)", verb, resp.RoundID, statusColor(resp.Status))
					if resp.ContractAddress != nil {
						u.field("contract", *resp.ContractAddress)
					} else {
						u.field("contract", "none, settled without voting")
					}
					u.field("participants", strings.Join(resp.Participants, ", "))
					return nil
				},
			},
			{
				Name:      "progress",
				Usage:     "show how many raters have voted",
				ArgsUsage: "CONTRACT",
				Action: func(c *cli.Context) error {
					contract, err := contractArg(c)
					if err != nil {
						return err
					}
					var resp struct {
						Progress types.Progress `json:"progress"`
						Ready    bool           `json:"ready"`
					}
					if err := client.do(c.Context, http.MethodGet, "/contracts/"+contract+"/progress", nil, &resp); err != nil {
						return err
					}
					if done, err := u.emit(resp); done {
						return err
					}

					p := resp.Progress
					fmt.Fprintf(u.out, "%s %d/%d voted", progressBar(p), p.Voted, p.Total)
					switch {
					case p.Finalized:
						fmt.Fprintln(u.out, " "+statusColor(types.StatusFinalized))
					case resp.Ready:
						fmt.Fprintln(u.out, " "+green("ready to finalize"))
					default:
						fmt.Fprintln(u.out)
					}
					return nil
				},
			},
			{
				Name:      "vote",
				Usage:     "submit a vote batch as TARGET=POINTS pairs; targets are logins or ledger addresses",
				ArgsUsage: "CONTRACT TARGET=POINTS...",
				Flags:     withCredential(),
				Action: func(c *cli.Context) error {
					contract, err := contractArg(c)
					if err != nil {
						return err
					}
					votes, err := parseVotes(c.Args().Tail())
					if err != nil {
						return err
					}

					var receipt types.VoteReceipt
					err = client.do(c.Context, http.MethodPost, "/contracts/"+contract+"/votes", types.SubmitVoteRequest{
						Voter: credential(c),
						Votes: votes,
					}, &receipt)
					if err != nil {
						return err
					}
					if done, err := u.emit(receipt); done {
						return err
					}

					u.success("Submitted %d vote(s) in %s", len(receipt.Accepted), receipt.TxHash)
					for _, d := range receipt.Dropped {
						u.warning("dropped %s=%d: %s", d.Target, d.Points, d.Reason)
					}
					return nil
				},
			},
			{
				Name:      "finalize",
				Usage:     "settle a fully voted round and store its final scores",
				ArgsUsage: "CONTRACT",
				Flags:     withCredential(),
				Action: func(c *cli.Context) error {
					contract, err := contractArg(c)
					if err != nil {
						return err
					}
					var result types.FinalizeResult
					err = client.do(c.Context, http.MethodPost, "/contracts/"+contract+"/finalize", types.FinalizeRequest{
						Admin: credential(c),
					}, &result)
					if err != nil {
						return err
					}
					return printSettlement(u, "Finalized", result)
				},
			},
			{
				Name:      "resync",
				Usage:     "re-read settled scores of a finalized contract into the store",
				ArgsUsage: "CONTRACT",
				Action: func(c *cli.Context) error {
					contract, err := contractArg(c)
					if err != nil {
						return err
					}
					var result types.FinalizeResult
					if err := client.do(c.Context, http.MethodPost, "/contracts/"+contract+"/resync", nil, &result); err != nil {
						return err
					}
					return printSettlement(u, "Resynced", result)
				},
			},
			{
				Name:  "leaderboard",
				Usage: "show the cumulative or latest-round ranking of a repository",
				Flags: []cli.Flag{
					repoFlag,
					&cli.StringFlag{Name: "mode", Value: string(leaderboard.ModeCumulative), Usage: "cumulative or latest"},
				},
				Action: func(c *cli.Context) error {
					path, err := repoPath(c.String("repo"))
					if err != nil {
						return err
					}
					mode, err := leaderboard.ParseMode(c.String("mode"))
					if err != nil {
						return err
					}

					var resp leaderboard.Response
					if err := client.do(c.Context, http.MethodGet, path+"/leaderboard?mode="+url.QueryEscape(string(mode)), nil, &resp); err != nil {
						return err
					}
					if done, err := u.emit(resp); done {
						return err
					}
					return printLeaderboard(u, resp)
				},
			},
			{
				Name:      "history",
				Usage:     "show a member's per-round breakdown",
				ArgsUsage: "IDENTITY",
				Flags:     []cli.Flag{repoFlag},
				Action: func(c *cli.Context) error {
					path, err := repoPath(c.String("repo"))
					if err != nil {
						return err
					}
					identity := strings.TrimSpace(c.Args().First())
					if identity == "" {
						return errors.New("identity is required")
					}

					var resp leaderboard.HistoryResponse
					if err := client.do(c.Context, http.MethodGet, path+"/members/"+url.PathEscape(identity)+"/history", nil, &resp); err != nil {
						return err
					}
					if done, err := u.emit(resp); done {
						return err
					}
					return printHistory(u, resp)
				},
			},
			{
				Name:      "bind",
				Usage:     "bind a member to a login, the ledger address of --address/--key and an access token",
				ArgsUsage: "USERNAME",
				Flags: withCredential(
					&cli.StringFlag{Name: "login", Usage: "source-hosting login", Required: true},
					&cli.StringFlag{Name: "token", Usage: "source-hosting access token", EnvVars: []string{"ROUNDCTL_ACCESS_TOKEN"}},
				),
				Action: func(c *cli.Context) error {
					username := strings.TrimSpace(c.Args().First())
					if username == "" {
						return errors.New("username is required")
					}

					var member types.Member
					err := client.do(c.Context, http.MethodPut, "/members/"+url.PathEscape(username), types.BindMemberRequest{
						Owner:         credential(c),
						Login:         c.String("login"),
						LedgerAddress: c.String("address"),
						AccessToken:   c.String("token"),
					}, &member)
					if err != nil {
						return err
					}
					if done, err := u.emit(member); done {
						return err
					}

					u.success("Bound %s", member.Username)
					u.field("login", member.Login)
					u.field("address", member.LedgerAddress)
					u.field("token", member.HasToken)
					return nil
				},
			},
			{
				Name:  "keygen",
				Usage: "generate a ledger key pair",
				Action: func(c *cli.Context) error {
					cred, err := ledger.GenerateCredential()
					if err != nil {
						return err
					}
					if done, err := u.emit(cred); done {
						return err
					}
					u.field("address", cred.Address)
					u.field("private_key", cred.PrivateKey)
					return nil
				},
			},
		},
	}
}

func contractArg(c *cli.Context) (string, error) {
	contract := strings.TrimSpace(c.Args().First())
	if contract == "" {
		return "", errors.New("contract address is required")
	}
	if _, err := ledger.ParseAddress(contract); err != nil {
		return "", err
	}
	return contract, nil
}

func parseVotes(args []string) ([]types.VoteEntry, error) {
	if len(args) == 0 {
		return nil, errors.New("at least one TARGET=POINTS pair is required")
	}
	votes := make([]types.VoteEntry, 0, len(args))
	for _, arg := range args {
		target, raw, ok := strings.Cut(arg, "=")
		if !ok || strings.TrimSpace(target) == "" {
			return nil, fmt.Errorf("invalid vote %q, want TARGET=POINTS", arg)
		}
		points, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid points in %q: %w", arg, err)
		}
		votes = append(votes, types.VoteEntry{Target: strings.TrimSpace(target), Points: &points})
	}
	return votes, nil
}

func printSettlement(u *ui, verb string, result types.FinalizeResult) error {
	if done, err := u.emit(result); done {
		return err
	}

	u.success("%s round %d", verb, result.RoundID)
	if !result.Persisted {
		u.warning("scores are settled on the ledger but not stored yet; run resync")
	}
	table := u.table([]string{"LOGIN", "ADDRESS", "BASE", "PEER", "FINAL"})
	for _, s := range result.Scores {
		_ = table.Append([]string{s.Login, s.Address, strconv.Itoa(s.BaseScore), strconv.Itoa(s.PeerScore), strconv.Itoa(s.FinalScore)})
	}
	return table.Render()
}

func printLeaderboard(u *ui, resp leaderboard.Response) error {
	header := fmt.Sprintf("%s (%s)", resp.Repository, resp.Mode)
	if resp.RoundID != 0 {
		header += fmt.Sprintf(" round %d %s", resp.RoundID, statusColor(resp.Status))
	}
	fmt.Fprintln(u.out, header)
	if resp.Pending {
		u.warning("voting is still open; showing base scores")
	}
	if len(resp.Entries) == 0 {
		fmt.Fprintln(u.out, "no scores yet")
		return nil
	}

	table := u.table([]string{"RANK", "LOGIN", "BASE", "PEER", "FINAL", "ROUNDS"})
	for _, e := range resp.Entries {
		_ = table.Append([]string{
			strconv.Itoa(e.Rank),
			e.Login,
			strconv.Itoa(e.BaseScore),
			strconv.Itoa(e.PeerScore),
			strconv.Itoa(e.FinalScore),
			strconv.Itoa(e.Rounds),
		})
	}
	return table.Render()
}

func printHistory(u *ui, resp leaderboard.HistoryResponse) error {
	if len(resp.Entries) == 0 {
		fmt.Fprintf(u.out, "no rounds found for %s in %s\n", resp.Identity, resp.Repository)
		return nil
	}

	table := u.table([]string{"ROUND", "WINDOW", "STATUS", "CODE", "PR", "REVIEW", "ISSUE", "BASE", "VOTES", "PEER", "FINAL"})
	for _, e := range resp.Entries {
		peer, final := strconv.Itoa(e.PeerScore), strconv.Itoa(e.FinalScore)
		if e.Pending {
			peer, final = "-", "-"
		}
		_ = table.Append([]string{
			strconv.FormatInt(e.RoundID, 10),
			e.WindowStart.Format("2006-01-02") + " .. " + e.WindowEnd.Format("2006-01-02"),
			statusColor(e.Status),
			strconv.Itoa(e.CodeScore),
			strconv.Itoa(e.PRScore),
			strconv.Itoa(e.ReviewScore),
			strconv.Itoa(e.IssueScore),
			strconv.Itoa(e.BaseScore),
			fmt.Sprintf("%d/%d", e.VotesCast, e.VotesReceived),
			peer,
			final,
		})
	}
	return table.Render()
}
