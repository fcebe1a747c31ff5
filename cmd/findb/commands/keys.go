package commands

import (
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"findb/pkg/kv"
)

func getCmd() *cobra.Command {
	var showType bool
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Print the value stored at key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, ok := db.Get(args[0])
			if !ok {
				return fmt.Errorf("%w: %q", kv.ErrKeyNotFound, args[0])
			}
			if showType {
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", v, v.Kind())
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&showType, "type", "t", false, "also print the value type")
	return cmd
}

func setCmd() *cobra.Command {
	var valueType string
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a value at key",
		Long:  "Store a value at key. Without --type the value is stored as an int or float when it parses as one, and as text otherwise.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := kv.ParseAs(valueType, args[1])
			if err != nil {
				return err
			}
			if _, err := db.Set(args[0], v); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		},
	}
	cmd.Flags().StringVar(&valueType, "type", "", "value type: int, text, float, bool or bytes (base64)")
	return cmd
}

func delCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "del <key>",
		Short: "Delete a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := db.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		},
	}
}

func incrCmd() *cobra.Command {
	var by int64
	cmd := &cobra.Command{
		Use:   "incr <key>",
		Short: "Increment the integer stored at key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := db.IncrBy(args[0], by)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
	cmd.Flags().Int64Var(&by, "by", 1, "amount to add")
	return cmd
}

func decrCmd() *cobra.Command {
	var by int64
	cmd := &cobra.Command{
		Use:   "decr <key>",
		Short: "Decrement the integer stored at key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := db.DecrBy(args[0], by)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
	cmd.Flags().Int64Var(&by, "by", 1, "amount to subtract")
	return cmd
}

func keysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "List all keys, sorted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys := db.Keys()
			slices.Sort(keys)
			for _, k := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	}
}

func dbsizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dbsize",
		Short: "Print the number of keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), db.DBSize())
			return nil
		},
	}
}

func lastsaveCmd() *cobra.Command {
	var unix bool
	cmd := &cobra.Command{
		Use:   "lastsave",
		Short: "Print the time of the last save",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t := db.LastSave()
			if unix {
				fmt.Fprintln(cmd.OutOrStdout(), t.Unix())
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.Format(time.DateTime))
			return nil
		},
	}
	cmd.Flags().BoolVar(&unix, "unix", false, "print seconds since the epoch")
	return cmd
}

func flushdbCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flushdb",
		Short: "Remove every key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := db.FlushDB(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		},
	}
}

func deletedbCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deletedb",
		Short: "Remove the database file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := db.DeleteDB(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		},
	}
}
