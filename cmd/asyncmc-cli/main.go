// Command asyncmc-cli is a small interactive harness for poking at a
// memcached server with the meta protocol client.
//
// Configuration comes from the environment (optionally via a .env file):
//
//	ASYNCMC_ADDR     server address (default 127.0.0.1:11211)
//	ASYNCMC_TIMEOUT  per-command timeout (default 5s)
//	ASYNCMC_DEBUG    enable debug logging of the connection lifecycle
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/asyncmc/asyncmc"
)

type config struct {
	Addr    string        `env:"ASYNCMC_ADDR, default=127.0.0.1:11211"`
	Timeout time.Duration `env:"ASYNCMC_TIMEOUT, default=5s"`
	Debug   bool          `env:"ASYNCMC_DEBUG, default=false"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	var cfg config
	if err := envconfig.Process(context.Background(), &cfg); err != nil {
		return err
	}

	logger := zap.NewNop()
	if cfg.Debug {
		var err error
		if logger, err = zap.NewDevelopment(); err != nil {
			return err
		}
	}
	defer logger.Sync()

	conn := asyncmc.NewConn(cfg.Addr, asyncmc.WithLogger(logger), asyncmc.WithID("cli"))
	go conn.Run(context.Background())
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	root := &cobra.Command{
		Use:           "asyncmc-cli",
		Short:         "memcached meta protocol client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var ttlSeconds int64
	setCmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "store a value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl := asyncmc.TTLIndefinite
			if ttlSeconds > 0 {
				ttl = asyncmc.ExpiresIn(time.Duration(ttlSeconds) * time.Second)
			}
			return conn.Set(ctx, args[0], asyncmc.String(args[1]), ttl)
		},
	}
	setCmd.Flags().Int64Var(&ttlSeconds, "ttl", 0, "time to live in seconds (0 = never expires)")

	getCmd := &cobra.Command{
		Use:   "get <key>",
		Short: "fetch a value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var v asyncmc.String
			found, err := conn.Get(ctx, args[0], &v)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("%s: miss", args[0])
			}
			fmt.Println(string(v))
			return nil
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <key>",
		Short: "delete a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return conn.Delete(ctx, args[0])
		},
	}

	incrCmd := &cobra.Command{
		Use:   "incr <key> [delta]",
		Short: "increment a counter",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			delta := uint64(1)
			if len(args) == 2 {
				var err error
				if delta, err = strconv.ParseUint(args[1], 10, 64); err != nil {
					return err
				}
			}
			return conn.Increment(ctx, args[0], delta)
		},
	}

	touchCmd := &cobra.Command{
		Use:   "touch <key> <seconds>",
		Short: "update a key's time to live",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			seconds, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return err
			}
			return conn.Touch(ctx, args[0], asyncmc.ExpiresIn(time.Duration(seconds)*time.Second))
		},
	}

	root.AddCommand(setCmd, getCmd, deleteCmd, incrCmd, touchCmd)
	return root.ExecuteContext(ctx)
}
