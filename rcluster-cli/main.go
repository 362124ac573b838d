// Command rcluster-cli executes a single command on a redis cluster via
// the rcluster package.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gomodule/redigo/redis"
	"github.com/mna/mainer"
	"github.com/mna/rcluster"
	"go.uber.org/zap"
)

const binName = "rcluster-cli"

const exitFailure mainer.ExitCode = 1

var (
	shortUsage = fmt.Sprintf(`
usage: %s [<option>...] <command> [<arg>...]
Run '%[1]s --help' for details.
`, binName)

	longUsage = fmt.Sprintf(`usage: %s [<option>...] <command> [<arg>...]
       %[1]s -h|--help

Interact with a Redis cluster via the rcluster package.

Valid flag options are:
       -h --help                 Show this help and exit immediately.
       -a --addrs ADDRS          Comma-separated list of seed addresses to
                                 connect to the cluster. Overrides the
                                 seeds of the configuration.
       -c --config FILE          Load the client configuration from this
                                 YAML file. RCLUSTER_* environment variables
                                 override it.
       -k --key KEY              Route the command to the node that holds
                                 KEY instead of extracting its keys.
       --random                  Execute the command on a random node.
       --hash KEY                Compute and print the hash slot of KEY and
                                 exit immediately.
       --slots                   Print the slot mapping of the cluster and
                                 exit.
       --flushall                Execute FLUSHALL on all master nodes and
                                 exit.
       -v --verbose              Log the client's activity to stderr.

The <command> is the redis command to execute, with the provided <arg>s.
`, binName)
)

type cmd struct {
	Help bool `flag:"h,help"`

	Addrs    string `flag:"a,addrs"`
	Config   string `flag:"c,config"`
	Key      string `flag:"k,key"`
	Random   bool   `flag:"random"`
	Hash     string `flag:"hash"`
	Slots    bool   `flag:"slots"`
	FlushAll bool   `flag:"flushall"`
	Verbose  bool   `flag:"v,verbose"`

	args []string
}

func (c *cmd) SetArgs(args []string) {
	c.args = args
}

func (c *cmd) Validate() error {
	if c.Help || c.Hash != "" {
		return nil
	}

	if c.Addrs == "" && c.Config == "" && os.Getenv(rcluster.EnvPrefix+"SEEDS") == "" {
		return errors.New("--addrs or --config is required")
	}
	if c.Key != "" && c.Random {
		return errors.New("--key and --random are mutually exclusive")
	}
	if c.Slots || c.FlushAll {
		return nil
	}
	if len(c.args) == 0 {
		return errors.New("no redis command provided")
	}
	return nil
}

func (c *cmd) Main(args []string, stdio mainer.Stdio) mainer.ExitCode {
	var p mainer.Parser
	if err := p.Parse(args, c); err != nil {
		fmt.Fprintln(stdio.Stderr, err)
		fmt.Fprint(stdio.Stderr, shortUsage)
		return mainer.InvalidArgs
	}

	switch {
	case c.Help:
		fmt.Fprint(stdio.Stdout, longUsage)
		return mainer.Success

	case c.Hash != "":
		slot := rcluster.Slot(c.Hash)
		fmt.Fprintf(stdio.Stdout, "slot for %q: %d\n", c.Hash, slot)
		return mainer.Success
	}

	logger := zap.NewNop()
	if c.Verbose {
		cfg := zap.NewDevelopmentConfig()
		cfg.OutputPaths = []string{"stderr"}
		l, err := cfg.Build()
		if err != nil {
			fmt.Fprintln(stdio.Stderr, err)
			return exitFailure
		}
		logger = l
	}
	defer logger.Sync()

	client, err := c.newClient(logger)
	if err != nil {
		fmt.Fprintln(stdio.Stderr, err)
		return mainer.InvalidArgs
	}
	defer client.Close()

	if err := c.run(client, stdio.Stdout); err != nil {
		fmt.Fprintln(stdio.Stderr, err)
		return exitFailure
	}
	return mainer.Success
}

func (c *cmd) newClient(logger *zap.Logger) (*rcluster.Client, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	return cfg.NewClient(logger)
}

func (c *cmd) loadConfig() (*rcluster.Config, error) {
	cfg, err := rcluster.ReadConfig(c.Config)
	if err != nil {
		return nil, err
	}

	// seeds from the command line win over the configuration
	if c.Addrs != "" {
		cfg.Seeds = cfg.Seeds[:0]
		for _, s := range strings.Split(c.Addrs, ",") {
			if s = strings.TrimSpace(s); s != "" {
				cfg.Seeds = append(cfg.Seeds, s)
			}
		}
	}
	return cfg, cfg.Validate()
}

func (c *cmd) run(client *rcluster.Client, w io.Writer) error {
	switch {
	case c.FlushAll:
		if err := client.FlushAll(); err != nil {
			return err
		}
		fmt.Fprintln(w, "OK")
		return nil

	case c.Slots:
		if err := client.Refresh(); err != nil {
			return err
		}
		for _, r := range client.Stats().Slots {
			fmt.Fprintf(w, "%5d-%-5d %s\n", r.Start, r.End, r.Master)
		}
		return nil
	}

	name := c.args[0]
	args := make([]interface{}, 0, len(c.args)-1)
	for _, a := range c.args[1:] {
		args = append(args, a)
	}

	var (
		v   interface{}
		err error
	)
	switch {
	case c.Key != "":
		v, err = client.DoKey(c.Key, name, args...)
	case c.Random:
		v, err = client.DoRandom(name, args...)
	default:
		v, err = client.Do(name, args...)
	}
	if err != nil {
		var re redis.Error
		if errors.As(err, &re) {
			fmt.Fprintf(w, "(error) %s\n", re)
			return nil
		}
		return err
	}
	printReply(w, v, "")
	return nil
}

func printReply(w io.Writer, v interface{}, indent string) {
	switch v := v.(type) {
	case nil:
		fmt.Fprintln(w, "(nil)")
	case []byte:
		fmt.Fprintf(w, "%q\n", v)
	case string:
		fmt.Fprintln(w, v)
	case int64:
		fmt.Fprintf(w, "(integer) %d\n", v)
	case []interface{}:
		if len(v) == 0 {
			fmt.Fprintln(w, "(empty array)")
			return
		}
		for i, vv := range v {
			if i > 0 {
				fmt.Fprint(w, indent)
			}
			prefix := fmt.Sprintf("%d) ", i+1)
			fmt.Fprint(w, prefix)
			printReply(w, vv, indent+strings.Repeat(" ", len(prefix)))
		}
	default:
		fmt.Fprintf(w, "%v\n", v)
	}
}

func main() {
	var c cmd
	os.Exit(int(c.Main(os.Args, mainer.CurrentStdio())))
}
