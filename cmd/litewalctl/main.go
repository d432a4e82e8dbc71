// litewalctl is an operator tool for litewal-managed SQLite databases:
// it runs ad-hoc WAL checkpoints and inspects schema through the same
// connection core the process embeds.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"

	"go.litewal.dev/core/handle"
)

// Config is the top-level configuration object of litewalctl.
var Config = new(struct {
	DB string `long:"db" env:"DB" required:"true" description:"Path of the SQLite database"`

	Log struct {
		Level  string `long:"level" env:"LEVEL" default:"info" choice:"trace" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"Logging level"`
		Format string `long:"format" env:"FORMAT" default:"text" choice:"json" choice:"text" description:"Logging output format"`
	} `group:"Logging" namespace:"log" env-namespace:"LOG"`
})

func initLog() {
	if Config.Log.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{})
	}
	if lvl, err := log.ParseLevel(Config.Log.Level); err != nil {
		log.WithField("err", err).Fatal("unrecognized log level")
	} else {
		log.SetLevel(lvl)
	}
}

func must(err error, msg string) {
	if err != nil {
		log.WithField("err", err).Fatal(msg)
	}
}

// openHandle opens a Handle of the configured database, and returns it with
// a cleanup which closes it.
func openHandle() (*handle.Handle, func()) {
	var h = handle.New(Config.DB)
	must(h.Open(), "opening database")
	return h, func() { must(h.Close(), "closing database") }
}

type cmdCheckpoint struct {
	Mode string `long:"mode" default:"PASSIVE" choice:"PASSIVE" choice:"FULL" choice:"RESTART" choice:"TRUNCATE" description:"Checkpoint mode"`
}

func (c *cmdCheckpoint) Execute([]string) error {
	initLog()

	var h, done = openHandle()
	defer done()

	var before = walSize(h)
	var ran, err = h.Checkpoint(handle.CheckpointMode(c.Mode))
	must(err, "running checkpoint")
	if !ran {
		log.Warn("checkpoint was vetoed")
		return nil
	}
	log.WithFields(log.Fields{
		"db":        Config.DB,
		"mode":      c.Mode,
		"walBefore": humanize.IBytes(before),
		"walAfter":  humanize.IBytes(walSize(h)),
	}).Info("checkpoint complete")
	return nil
}

type cmdTables struct{}

func (c *cmdTables) Execute([]string) error {
	initLog()

	var h, done = openHandle()
	defer done()

	var tables, err = h.GetValues(
		`SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name;`, 1)
	must(err, "listing tables")

	for _, table := range tables {
		var columns, err = h.GetColumns(table)
		must(err, "listing columns")
		fmt.Printf("%s (%s)\n", table, strings.Join(columns, ", "))
	}
	return nil
}

func walSize(h *handle.Handle) uint64 {
	if fi, err := os.Stat(h.WALPath()); err == nil {
		return uint64(fi.Size())
	}
	return 0
}

func main() {
	var parser = flags.NewParser(Config, flags.Default)

	_, _ = parser.AddCommand("checkpoint", "Run a WAL checkpoint", `
Run a WAL checkpoint of the database in the selected mode, and report the
change in WAL size.
`, &cmdCheckpoint{})

	_, _ = parser.AddCommand("tables", "List tables and their columns", `
List tables of the database along with their column names.
`, &cmdTables{})

	if _, err := parser.Parse(); err != nil {
		os.Exit(1)
	}
}
