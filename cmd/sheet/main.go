package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/astromechza/automerge-sheet/pkg/broadcast"
	"github.com/astromechza/automerge-sheet/pkg/protocol"
	"github.com/astromechza/automerge-sheet/pkg/sheet"
	"github.com/astromechza/automerge-sheet/pkg/snapshot"
	"github.com/astromechza/automerge-sheet/pkg/store"
	"github.com/astromechza/automerge-sheet/pkg/viz"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	addrVar := flag.String("addr", "127.0.0.1:8080", "the relay address to connect to")
	topicVar := flag.String("topic", "default", "the shared document topic")
	dbVar := flag.String("db", "sheet.sqlite3", "the snapshot database path")
	flag.Parse()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{})))

	slog.Info("Opening snapshot database", "path", *dbVar)
	db, err := snapshot.Open(*dbVar)
	if err != nil {
		return err
	}
	defer db.Close()

	var st *store.Store
	if raw, err := db.Load(*topicVar); err != nil {
		return err
	} else if raw != nil {
		if st, err = store.Load(raw); err != nil {
			return fmt.Errorf("failed to load snapshot: %w", err)
		}
		slog.Info("restored snapshot", "topic", *topicVar)
	} else {
		st = store.New()
		slog.Info("no snapshot, starting empty", "topic", *topicVar)
	}
	slog.Info("established doc", "actor", st.ActorID())

	engine, err := sheet.NewEngine(st)
	if err != nil {
		return err
	}
	defer engine.Close()
	unsubscribe := engine.OnChange(func(c sheet.Coord) {
		if cell, ok, err := engine.GetCell(c); err == nil && ok {
			slog.Info("cell updated", "coord", c, "value", cell.Value.Display())
		} else {
			slog.Info("cell cleared", "coord", c)
		}
	})
	defer unsubscribe()

	channel, err := broadcast.NewRelayChannel(*addrVar)
	if err != nil {
		return err
	}
	driver, err := protocol.Attach(*topicVar, st, channel)
	if err != nil {
		return err
	}
	defer driver.Destroy()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(time.Second * 5)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if wrote, err := db.Save(*topicVar, st.Save()); err != nil {
					slog.Error("failed to backup doc in database", "err", err)
				} else if wrote {
					slog.Info("backed up", "topic", *topicVar)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)

	fmt.Println("commands: set <coord> <text> | clear <coord> | get <coord> | show | viz | quit")
loop:
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			if strings.TrimSpace(line) == "quit" {
				break loop
			}
			if err := runCommand(engine, line); err != nil {
				fmt.Println("error:", err)
			}
		case sig := <-exit:
			slog.Info("Signal caught", "sig", sig)
			break loop
		}
	}

	cancel()
	wg.Wait()

	if _, err := db.Save(*topicVar, st.Save()); err != nil {
		slog.Error("failed to save final snapshot", "err", err)
	}
	return nil
}

func runCommand(engine *sheet.Engine, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	switch fields[0] {
	case "set":
		if len(fields) < 3 {
			return fmt.Errorf("usage: set <coord> <text>")
		}
		coord, err := sheet.ParseCoord(fields[1])
		if err != nil {
			return err
		}
		return engine.SetCell(coord, strings.Join(fields[2:], " "))
	case "clear":
		if len(fields) != 2 {
			return fmt.Errorf("usage: clear <coord>")
		}
		coord, err := sheet.ParseCoord(fields[1])
		if err != nil {
			return err
		}
		return engine.ClearCell(coord)
	case "get":
		if len(fields) != 2 {
			return fmt.Errorf("usage: get <coord>")
		}
		coord, err := sheet.ParseCoord(fields[1])
		if err != nil {
			return err
		}
		cell, ok, err := engine.GetCell(coord)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Printf("%s is blank\n", coord)
			return nil
		}
		printCell(cell)
		return nil
	case "show":
		cells, err := engine.GetAllCells()
		if err != nil {
			return err
		}
		for _, cell := range cells {
			printCell(cell)
		}
		return nil
	case "viz":
		cells, err := engine.GetAllCells()
		if err != nil {
			return err
		}
		path, err := viz.RenderToTemp(cells, engine.DependencyEdges())
		if err != nil {
			return err
		}
		fmt.Println("rendered to file://" + path)
		return nil
	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
}

func printCell(cell sheet.Cell) {
	if cell.Formula != "" {
		fmt.Printf("%s\t%s\t(%s)\n", cell.Coord, cell.Value.Display(), cell.Formula)
	} else {
		fmt.Printf("%s\t%s\n", cell.Coord, cell.Value.Display())
	}
}
