package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"perp-panel/internal/app"
	"perp-panel/internal/config"
	"perp-panel/internal/console"
	"perp-panel/internal/log"
)

type session struct {
	cfg    *config.Config
	logger *zap.Logger
	app    *app.App
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		sess       session
	)

	root := &cobra.Command{
		Use:           "panel",
		Short:         "USDT 永续合约分批下单控制面板",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("加载配置失败: %w", err)
			}
			logger, err := log.NewLogger(cfg.Logging, cfg.App.Environment)
			if err != nil {
				return fmt.Errorf("初始化日志失败: %w", err)
			}
			panel, err := app.New(cfg, logger)
			if err != nil {
				return err
			}
			sess = session{cfg: cfg, logger: logger, app: panel}
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if sess.logger != nil {
				_ = sess.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "配置文件路径，默认使用 configs/config.yaml")

	root.AddCommand(
		newServeCmd(&sess),
		newBalanceCmd(&sess),
		newPositionsCmd(&sess),
		newOrdersCmd(&sess),
		newEnterCmd(&sess),
		newExitCmd(&sess),
		newCancelCmd(&sess),
		newNotifyCmd(&sess),
		newCheckCmd(&sess),
	)
	return root
}

func newServeCmd(sess *session) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 控制接口",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return sess.app.Serve(cmd.Context())
		},
	}
}

func newBalanceCmd(sess *session) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "查询钱包余额与账户概览",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			snapshot := sess.app.Snapshot(cmd.Context(), true)
			fmt.Fprintln(cmd.OutOrStdout(), console.Snapshot(snapshot, sess.cfg.Execution.Leverage))
			return nil
		},
	}
}

func newPositionsCmd(sess *session) *cobra.Command {
	return &cobra.Command{
		Use:   "positions [SYMBOL]",
		Short: "查询持仓",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			positions, err := sess.app.Positions(cmd.Context(), firstArg(args))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), console.Positions(positions))
			return nil
		},
	}
}

func newOrdersCmd(sess *session) *cobra.Command {
	return &cobra.Command{
		Use:   "orders [SYMBOL]",
		Short: "查询未成交委托",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orders, err := sess.app.Orders(cmd.Context(), firstArg(args))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), console.Orders(orders))
			return nil
		},
	}
}

func newEnterCmd(sess *session) *cobra.Command {
	var (
		price float64
		pct   float64
	)
	cmd := &cobra.Command{
		Use:       "enter long|short SYMBOL",
		Short:     "分批开仓: 45% 市价 + 三档限价",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"long", "short"},
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := sess.app.Enter(cmd.Context(), app.EntryRequest{
				Direction: args[0],
				Symbol:    args[1],
				Price:     price,
				Pct:       pct,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), console.Plan(result))
			return nil
		},
	}
	cmd.Flags().Float64Var(&price, "price", 0, "参考价，默认使用最新价")
	cmd.Flags().Float64Var(&pct, "pct", 0, "本次使用的余额比例(%)，默认使用 execution.max_position_pct")
	return cmd
}

func newExitCmd(sess *session) *cobra.Command {
	return &cobra.Command{
		Use:       "exit long|short SYMBOL",
		Short:     "撤单并市价平仓",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"long", "short"},
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := sess.app.Exit(cmd.Context(), app.ExitRequest{Direction: args[0], Symbol: args[1]})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), console.Plan(result))
			return nil
		},
	}
}

func newCancelCmd(sess *session) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel SYMBOL|ALL",
		Short: "撤销指定合约或全部合约的委托",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := sess.app.Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), console.Cancel(report))
			return nil
		},
	}
}

func newNotifyCmd(sess *session) *cobra.Command {
	return &cobra.Command{
		Use:   "notify [TEXT]",
		Short: "发送一条通知，默认发送测试消息",
		RunE: func(cmd *cobra.Command, args []string) error {
			ok := sess.app.Notify(cmd.Context(), strings.Join(args, " "))
			if ok {
				fmt.Fprintln(cmd.OutOrStdout(), console.Result(true, "通知已发送"))
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), console.Result(false, "通知未发送，请检查 notify 配置"))
			}
			return nil
		},
	}
}

func newCheckCmd(sess *session) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "测试交易所连接",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res := sess.app.Check(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), console.Result(res.OK, res.Message))
			settings := sess.app.Settings()
			fmt.Fprintf(cmd.OutOrStdout(), "testnet=%t dry_run=%t leverage=%gx max_position_pct=%g notify=%t\n",
				settings.Testnet, settings.DryRun, settings.Leverage, settings.MaxPositionPct, settings.Notify)
			return nil
		},
	}
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
