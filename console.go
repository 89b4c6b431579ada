package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"invsync/activities"
	"invsync/models"
	"invsync/node"
	"invsync/storage"
)

// console is the terminal UI: it answers activity side effects and runs
// the interactive command shell.
type console struct {
	out io.Writer

	outMu sync.Mutex
	lines chan string

	presetName string

	lostOnce sync.Once
	lost     chan struct{}
}

func newConsole(in io.Reader, out io.Writer, presetName string) *console {
	c := &console{
		out:        out,
		lines:      make(chan string),
		presetName: presetName,
		lost:       make(chan struct{}),
	}
	go func() {
		defer close(c.lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			c.lines <- scanner.Text()
		}
	}()
	return c
}

func (c *console) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func (c *console) Alert(message string) {
	c.printf("! %s\n", message)
}

func (c *console) PromptName() (string, error) {
	if c.presetName != "" {
		name := c.presetName
		c.presetName = ""
		return name, nil
	}
	c.printf("Your name: ")
	line, ok := <-c.lines
	if !ok {
		return "", io.EOF
	}
	return line, nil
}

func (c *console) GiftReceived(from string, item models.Item) {
	if from == "" {
		from = "the host"
	}
	c.printf("* received %s x%d from %s\n", item.Name, item.Quantity, from)
}

func (c *console) GiftDelivered(target string) {
	c.printf("* gift delivered to %s\n", target)
}

func (c *console) GiftFailed(target string) {
	c.printf("! gift to %s failed: player is not connected\n", target)
}

func (c *console) ConnectionLost(reason string) {
	c.printf("! %s\n", reason)
	c.lostOnce.Do(func() { close(c.lost) })
}

// askName settles the guest's player name before connecting.
func askName(c *console, n *node.Node) error {
	for {
		raw, err := c.PromptName()
		if err != nil {
			return fmt.Errorf("read player name: %w", err)
		}
		err = activities.SetName(n, raw)
		if errors.Is(err, activities.ErrInvalidName) {
			c.Alert("Please enter a name.")
			continue
		}
		return err
	}
}

// run reads commands until quit, end of input, connection loss or ctx.
func (c *console) run(ctx context.Context, n *node.Node) error {
	c.printf("Type \"help\" for commands.\n")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.lost:
			return nil
		case line, ok := <-c.lines:
			if !ok {
				return nil
			}
			quit, err := c.exec(ctx, n, line)
			if err != nil {
				c.printf("error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func (c *console) exec(ctx context.Context, n *node.Node, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	command, args := fields[0], fields[1:]

	switch command {
	case "help":
		c.printf("commands: players, profiles, items, choose <profile>, gift <player> <item>, reset [player], quit\n")
	case "quit", "exit":
		return true, nil
	case "players":
		players, err := activities.Players(n)
		if err != nil {
			return false, err
		}
		if len(players) == 0 {
			c.printf("no players\n")
			return false, nil
		}
		for _, name := range players {
			c.printf("  %s\n", name)
		}
	case "profiles":
		profiles, err := activities.Profiles(n)
		if err != nil {
			return false, err
		}
		ids := make([]string, 0, len(profiles))
		for id := range profiles {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			lock := ""
			if profiles[id].Locked {
				lock = " (claimed)"
			}
			c.printf("  %s  %s%s\n", id, profiles[id].DisplayName, lock)
		}
	case "choose":
		if len(args) != 1 {
			return false, errors.New("usage: choose <profile>")
		}
		if n.Role() != node.RoleGuest {
			return false, errors.New("only guests choose profiles")
		}
		if err := activities.ChooseProfile(ctx, n, args[0]); err != nil {
			return false, err
		}
		c.printf("profile %s is yours\n", args[0])
	case "gift":
		if len(args) != 2 {
			return false, errors.New("usage: gift <player> <item>")
		}
		return false, c.gift(n, args[0], args[1])
	case "items":
		return false, c.items(n)
	case "reset":
		if n.Role() == node.RoleHost {
			if len(args) != 1 {
				return false, errors.New("usage: reset <player>")
			}
			return false, activities.ResetProfile(n, args[0])
		}
		return false, activities.RequestProfileReset(n)
	default:
		return false, fmt.Errorf("unknown command %q", command)
	}
	return false, nil
}

func (c *console) gift(n *node.Node, target, itemID string) error {
	if n.Store() == nil {
		return activities.ErrNoStore
	}
	item, _, err := n.Store().GetItem(itemID)
	if err != nil {
		return fmt.Errorf("item %q: %w", itemID, err)
	}
	if n.Role() == node.RoleHost {
		return activities.SendGiftFromHost(n, target, *item)
	}
	return activities.SendGift(n, target, *item)
}

// items lists the inventories of the profiles this node plays.
func (c *console) items(n *node.Node) error {
	var profileIDs []string
	if err := n.Do(func(n *node.Node) error {
		if id, ok := activities.PlayerProfileID(n); ok {
			profileIDs = append(profileIDs, id)
		}
		if id, ok := activities.ClaimedProfile(n); ok {
			profileIDs = append(profileIDs, id)
		}
		return nil
	}); err != nil {
		return err
	}
	if n.Role() == node.RoleHost && n.Store() != nil {
		profiles, err := n.Store().ListProfiles()
		if err != nil {
			return err
		}
		for _, profile := range profiles {
			profileIDs = append(profileIDs, profile.ID)
		}
	}
	if len(profileIDs) == 0 {
		c.printf("no profiles yet\n")
		return nil
	}

	for _, id := range profileIDs {
		snapshot, err := n.Store().ExportProfile(id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		c.printf("%s\n", snapshot.Profile.DisplayName)
		for _, inv := range snapshot.Inventories {
			c.printf("  [%s]\n", inv.Name)
			for _, item := range inv.Items {
				c.printf("    %s  %s x%d\n", item.ID, item.Name, item.Quantity)
			}
		}
	}
	return nil
}
