package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"scrtgate/agent/internal/agent"
	"scrtgate/agent/internal/config"
	"scrtgate/agent/internal/keys"
	"scrtgate/agent/internal/server"
	"scrtgate/agent/internal/swap"
)

const replExit = "exit"

func (s *runtimeState) newInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config and create the agent wallet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			home := strings.TrimSpace(s.home)
			if home == "" {
				h, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home = h
			}
			base := config.BaseDir(home)
			if err := os.MkdirAll(base, 0o700); err != nil {
				return err
			}

			cfgPath := filepath.Join(base, config.FileName)
			cfg := config.Default(home)
			created := false
			if existing, err := config.Load(cfgPath); err == nil {
				cfg = existing
			} else if !os.IsNotExist(err) {
				return err
			} else {
				if err := config.Write(cfgPath, cfg); err != nil {
					return err
				}
				created = true
			}

			if strings.TrimSpace(cfg.Agent.KeyFile) == "" {
				cfg.Agent.KeyFile = keys.DefaultKeyPath(filepath.Join(base, "keys"))
			}
			key, keyCreated, err := keys.EnsureKey(cfg.Agent.KeyFile, "agent")
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if created {
				fmt.Fprintf(out, "initialized %s\n", cfgPath)
			} else {
				fmt.Fprintf(out, "config already present at %s\n", cfgPath)
			}
			fmt.Fprintf(out, "wallet address: %s\n", key.Address)
			if keyCreated {
				fmt.Fprintf(out, "recovery phrase stored in %s; back it up and fund the wallet with sUSDC\n", cfg.Agent.KeyFile)
			}
			return nil
		},
	}
}

func (s *runtimeState) newChatCommand() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the agent in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := s.buildAgent()
			if err != nil {
				return err
			}
			user = s.resolveUser(user)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Chatting as %s. Type %q to quit.\n", user, replExit)

			scanner := bufio.NewScanner(cmd.InOrStdin())
			scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
			for {
				fmt.Fprint(out, "You: ")
				if !scanner.Scan() {
					fmt.Fprintln(out)
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				if line == replExit {
					return nil
				}
				if line == "" {
					continue
				}
				reply, err := a.HandleMessage(cmd.Context(), user, line)
				if err != nil {
					s.log.Warn("turn failed", zap.String("user", user), zap.Error(err))
					reply = agent.Describe(err)
				}
				fmt.Fprintf(out, "AI: %s\n", reply)
				if cmd.Context().Err() != nil {
					return nil
				}
			}
		},
	}
	s.userFlag(cmd, &user)
	return cmd
}

func (s *runtimeState) newServeCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := s.buildAgent()
			if err != nil {
				return err
			}
			if strings.TrimSpace(addr) == "" {
				addr = s.cfg.Server.Addr
			}
			return server.New(a, s.log.Named("http")).Run(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: server.addr)")
	return cmd
}

func (s *runtimeState) newBalancesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "balances",
		Short: "Show the wallet's sSCRT and sUSDC balances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reader, err := s.balanceReader()
			if err != nil {
				return err
			}
			snap, err := reader.Balances(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "address: %s\n%s\n", snap.Address, snap)
			return nil
		},
	}
}

func (s *runtimeState) newWalletCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "wallet",
		Short: "Show the wallet address, node and native balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			lcd, err := s.chainClient()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "address: %s\n", lcd.Address())

			info, err := lcd.NodeInfo(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "network: %s (%s)\n", info.Network, info.Moniker)
			fmt.Fprintf(out, "node:    %s, cosmos-sdk %s\n", info.AppVersion, info.CosmosSDKVersion)

			coins, err := lcd.BankBalances(cmd.Context(), lcd.Address())
			if err != nil {
				return err
			}
			if len(coins) == 0 {
				fmt.Fprintln(out, "balance: 0")
				return nil
			}
			for _, c := range coins {
				if c.Denom == "uscrt" {
					fmt.Fprintf(out, "balance: %s SCRT (%s%s)\n", swap.FormatUnits(c.Amount, 6), c.Amount, c.Denom)
					continue
				}
				fmt.Fprintf(out, "balance: %s%s\n", c.Amount, c.Denom)
			}
			return nil
		},
	}
}

func (s *runtimeState) newStatusCommand() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether a user has enabled trading",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := s.openStore()
			if err != nil {
				return err
			}
			user = s.resolveUser(user)
			convinced, err := st.IsConvinced(cmd.Context(), user)
			if err != nil {
				return err
			}
			turns, err := st.History(cmd.Context(), user)
			if err != nil {
				return err
			}
			stats, err := st.Stats(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "user:    %s\n", user)
			fmt.Fprintf(out, "trading: %s\n", enabledLabel(convinced))
			fmt.Fprintf(out, "turns:   %d\n", len(turns))
			fmt.Fprintf(out, "store:   %s (%d users, %d turns, %d convinced)\n", st, stats.Users, stats.Turns, stats.Convinced)
			return nil
		},
	}
	s.userFlag(cmd, &user)
	return cmd
}

func (s *runtimeState) newHistoryCommand() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print a user's conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := s.openStore()
			if err != nil {
				return err
			}
			user = s.resolveUser(user)
			turns, err := st.History(cmd.Context(), user)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(turns) == 0 {
				fmt.Fprintf(out, "no conversation with %s yet\n", user)
				return nil
			}
			for _, t := range turns {
				fmt.Fprintf(out, "[%s]\nYou: %s\nAI: %s\n\n", t.CreatedAt.Local().Format(time.DateTime), t.Message, t.Response)
			}
			return nil
		},
	}
	s.userFlag(cmd, &user)
	return cmd
}

func (s *runtimeState) newTradesCommand() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "trades",
		Short: "List the trade attempts made for a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := s.openJournal()
			if err != nil {
				return err
			}
			user = s.resolveUser(user)
			entries, err := j.List(cmd.Context(), user)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintf(out, "no trades for %s\n", user)
				return nil
			}
			for _, e := range entries {
				line := fmt.Sprintf("%s  %-15s code=%d", e.StartedAt.Local().Format(time.DateTime), e.State, e.Code)
				if e.TxHash != "" {
					line += "  hash=" + e.TxHash
				}
				if e.Height > 0 {
					line += fmt.Sprintf("  height=%d", e.Height)
				}
				if e.Error != "" {
					line += "  error=" + e.Error
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	s.userFlag(cmd, &user)
	return cmd
}

func enabledLabel(on bool) string {
	if on {
		return "enabled"
	}
	return "not enabled (the user has not been convinced)"
}
