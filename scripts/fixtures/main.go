package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/jaywantadh/chunkmesh/pkg/env"
	"github.com/jaywantadh/chunkmesh/pkg/logging"
)

const line = "This is a test line for file sharing application testing.\n"

func main() {
	logging.InitLogger(false)
	env.LoadEnv(logging.Component("fixtures"))

	if err := newApp().Run(os.Args); err != nil {
		logging.Log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "fixtures",
		Usage: "Write a text file of repeated lines for transfer testing",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "out",
				Value: env.GetEnv("FIXTURE_PATH", "big_test_file.txt"),
				Usage: "file to write",
			},
			&cli.IntFlag{
				Name:  "size-mb",
				Value: env.GetEnvInt("FIXTURE_SIZE_MB", 50),
				Usage: "target size in MB",
			},
		},
		Action: func(c *cli.Context) error {
			if c.Int("size-mb") < 0 {
				return fmt.Errorf("invalid size %d MB", c.Int("size-mb"))
			}
			out := c.String("out")
			written, err := writeFixture(out, int64(c.Int("size-mb"))*1024*1024)
			if err != nil {
				return fmt.Errorf("failed to write fixture: %w", err)
			}
			fmt.Fprintf(c.App.Writer, "wrote %s (%d bytes)\n", out, written)
			return nil
		},
	}
}

// writeFixture repeats line until exactly size bytes are written.
func writeFixture(path string, size int64) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	var written int64
	for written < size {
		chunk := line
		if rem := size - written; rem < int64(len(line)) {
			chunk = line[:rem]
		}
		n, err := w.WriteString(chunk)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	if err := w.Flush(); err != nil {
		return written, err
	}
	return written, f.Sync()
}
