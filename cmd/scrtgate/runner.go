package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"scrtgate/agent/internal/agent"
	"scrtgate/agent/internal/chain"
	"scrtgate/agent/internal/config"
	"scrtgate/agent/internal/conversation"
	"scrtgate/agent/internal/gate"
	"scrtgate/agent/internal/journal"
	"scrtgate/agent/internal/keys"
	"scrtgate/agent/internal/llm"
	"scrtgate/agent/internal/logging"
	"scrtgate/agent/internal/quote"
	"scrtgate/agent/internal/store"
	"scrtgate/agent/internal/swap"
	"scrtgate/agent/internal/trade"
	"scrtgate/agent/internal/types"
)

type Runner struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func NewRunner() *Runner {
	return NewRunnerWithIO(os.Stdin, os.Stdout, os.Stderr)
}

func NewRunnerWithIO(stdin io.Reader, stdout, stderr io.Writer) *Runner {
	return &Runner{stdin: stdin, stdout: stdout, stderr: stderr}
}

// runtimeState holds what one invocation has opened. Everything is built on
// first use so read-only commands never touch the chain or the model.
type runtimeState struct {
	runner     *Runner
	configPath string
	home       string

	cfg config.Config
	log *zap.Logger

	store   *store.Store
	journal *journal.Journal
	wallet  *chain.Wallet
	lcd     *chain.LCDClient
}

func (r *Runner) Run(ctx context.Context, args []string) int {
	state := &runtimeState{runner: r, log: zap.NewNop()}
	root := state.newRootCommand()
	root.SetArgs(args)
	root.SetIn(r.stdin)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.ExecuteContext(ctx)
	state.close()
	if err == nil {
		return 0
	}
	fmt.Fprintf(r.stderr, "error: %s\n", err.Error())
	return 1
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrtgate",
		Short: "Chat agent that buys sSCRT once you convince it to",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch cmd.Name() {
			case "help", "init", "scrtgate":
				return nil
			}
			return s.loadConfig()
		},
	}
	cmd.PersistentFlags().StringVar(&s.configPath, "config", "", "path to config.yaml (default: discovered)")
	cmd.PersistentFlags().StringVar(&s.home, "home", "", "home directory used by init (default: $HOME)")

	cmd.AddCommand(s.newInitCommand())
	cmd.AddCommand(s.newChatCommand())
	cmd.AddCommand(s.newServeCommand())
	cmd.AddCommand(s.newBalancesCommand())
	cmd.AddCommand(s.newWalletCommand())
	cmd.AddCommand(s.newStatusCommand())
	cmd.AddCommand(s.newHistoryCommand())
	cmd.AddCommand(s.newTradesCommand())
	return cmd
}

func (s *runtimeState) loadConfig() error {
	if err := config.LoadEnv(); err != nil {
		return err
	}
	path, err := config.Discover(s.configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return err
	}
	log, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
	if err != nil {
		return errorsmod.Wrapf(types.ErrConfig, "logging: %v", err)
	}
	s.cfg = cfg
	s.log = log
	s.log.Debug("config loaded", zap.String("path", path))
	return nil
}

func (s *runtimeState) close() {
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			s.log.Warn("close journal", zap.Error(err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.log.Warn("close store", zap.Error(err))
		}
	}
	_ = s.log.Sync()
}

func (s *runtimeState) openStore() (*store.Store, error) {
	if s.store == nil {
		st, err := store.Open(s.cfg.Store.Path, s.log.Named("store"))
		if err != nil {
			return nil, err
		}
		s.store = st
	}
	return s.store, nil
}

func (s *runtimeState) openJournal() (*journal.Journal, error) {
	if s.journal == nil {
		j, err := journal.Open(s.cfg.Store.JournalPath)
		if err != nil {
			return nil, errorsmod.Wrap(types.ErrStorage, err.Error())
		}
		s.journal = j
	}
	return s.journal, nil
}

// loadWallet prefers a configured mnemonic and falls back to the key file
// written by init.
func (s *runtimeState) loadWallet() (*chain.Wallet, error) {
	if s.wallet != nil {
		return s.wallet, nil
	}
	var (
		w   *chain.Wallet
		err error
	)
	if m := strings.TrimSpace(s.cfg.Agent.Mnemonic); m != "" {
		w, err = chain.WalletFromMnemonic(m)
	} else {
		var key keys.StoredKey
		key, err = keys.Load(s.cfg.Agent.KeyFile)
		if err != nil {
			return nil, errorsmod.Wrapf(types.ErrConfig, "wallet key not found, run scrtgate init or set MNEMONIC: %v", err)
		}
		w, err = key.Wallet()
	}
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrConfig, "wallet: %v", err)
	}
	s.wallet = w
	return w, nil
}

func (s *runtimeState) chainClient() (*chain.LCDClient, error) {
	if s.lcd != nil {
		return s.lcd, nil
	}
	w, err := s.loadWallet()
	if err != nil {
		return nil, err
	}
	s.lcd = chain.NewLCDClient(chain.LCDOptions{
		BaseURL:  s.cfg.Chain.LCD,
		ChainID:  s.cfg.Chain.ChainID,
		GasPrice: s.cfg.Chain.GasPrice,
		Timeout:  seconds(s.cfg.Chain.TimeoutSeconds),
	}, w, s.log.Named("chain"))
	return s.lcd, nil
}

func (s *runtimeState) pair() swap.Pair {
	return swap.Pair{
		Quote:  tokenFromConfig(s.cfg.Tokens.Quote),
		Target: tokenFromConfig(s.cfg.Tokens.Target),
	}
}

func (s *runtimeState) balanceReader() (swap.Reader, error) {
	lcd, err := s.chainClient()
	if err != nil {
		return swap.Reader{}, err
	}
	p := s.pair()
	return swap.Reader{Querier: lcd, Address: lcd.Address(), Tokens: []swap.Token{p.Target, p.Quote}}, nil
}

func (s *runtimeState) buildAgent() (*agent.Agent, error) {
	st, err := s.openStore()
	if err != nil {
		return nil, err
	}
	j, err := s.openJournal()
	if err != nil {
		return nil, err
	}
	lcd, err := s.chainClient()
	if err != nil {
		return nil, err
	}
	balances, err := s.balanceReader()
	if err != nil {
		return nil, err
	}

	model, err := llm.New(llm.Config{
		Provider:        s.cfg.LLM.Provider,
		Model:           s.cfg.LLM.Model,
		BaseURL:         s.cfg.LLM.BaseURL,
		APIKey:          s.cfg.LLM.APIKey,
		MaxOutputTokens: s.cfg.LLM.MaxOutputTokens,
		TimeoutSeconds:  s.cfg.LLM.TimeoutSeconds,
	})
	if err != nil {
		return nil, errorsmod.Wrap(types.ErrConfig, err.Error())
	}
	s.log.Info("agent ready",
		zap.String("address", lcd.Address()),
		zap.String("llm", model.Provider()),
		zap.String("model", model.Model()),
		zap.String("store", st.String()))

	g := gate.New(st, s.log.Named("gate"))
	engine := conversation.New(st, model,
		quote.New(s.cfg.Quotes.URL, seconds(s.cfg.Quotes.TimeoutSeconds)),
		conversation.Options{
			SystemPrompt:    s.cfg.Agent.SystemPrompt,
			Temperature:     s.cfg.LLM.Temperature,
			GenerateTimeout: seconds(s.cfg.LLM.TimeoutSeconds),
		}, s.log.Named("conversation"))

	confirm := s.cfg.Trade.Confirm
	trader := trade.New(g, lcd, trade.Options{
		Order:    swap.BuyOrder(s.pair()),
		GasLimit: swap.BuyGasLimit,
		Confirm: trade.ConfirmPolicy{
			InitialWait: seconds(confirm.InitialWaitSeconds),
			MinInterval: seconds(confirm.PollMinSeconds),
			MaxInterval: seconds(confirm.PollMaxSeconds),
			Deadline:    seconds(confirm.DeadlineSeconds),
		},
		Journal: j,
	}, s.log.Named("trade"))

	return agent.New(agent.Deps{
		Store:    st,
		Consent:  g,
		Engine:   engine,
		Trader:   trader,
		Balances: balances,
	}, s.log.Named("agent")), nil
}

func (s *runtimeState) userFlag(cmd *cobra.Command, user *string) {
	cmd.Flags().StringVar(user, "user", "", "user id (default: agent.default_user)")
}

func (s *runtimeState) resolveUser(user string) string {
	if u := strings.TrimSpace(user); u != "" {
		return u
	}
	return s.cfg.Agent.DefaultUser
}

func tokenFromConfig(t config.Token) swap.Token {
	return swap.Token{
		Symbol:     t.Symbol,
		Contract:   t.Contract,
		CodeHash:   t.CodeHash,
		ViewingKey: t.ViewingKey,
		Decimals:   t.Decimals,
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
