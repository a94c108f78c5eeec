package main

import (
	"bufio"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/NicolasHaas/gorelay/pkg/client"
	"github.com/NicolasHaas/gorelay/pkg/logging"
)

func main() {
	// Defaults to info/text; override with GORELAY_LOG_LEVEL and GORELAY_LOG_FORMAT.
	if err := logging.Setup(logging.OptionsFromEnv(os.Stderr)); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	settingsPath := flag.String("settings", client.SettingsPath(), "Settings file")
	serverAddr := flag.String("server", "", "Relay address (default from settings, then "+client.DefaultServerAddr+")")
	flag.Parse()

	settings := client.LoadSettings(*settingsPath)
	if *serverAddr != "" {
		settings.ServerAddr = *serverAddr
	}

	engine, err := client.Dial(settings.ServerAddr, os.Stdout)
	if err != nil {
		slog.Error("connect", "err", err)
		os.Exit(1)
	}
	defer engine.Close()

	engine.OnLogin = func(username string) {
		if settings.Username == username {
			return
		}
		settings.Username = username
		if err := settings.Save(*settingsPath); err != nil {
			slog.Warn("save settings", "err", err)
		}
	}
	engine.StartReceiving()

	fmt.Printf("gorelay client -> %s\n", settings.ServerAddr)
	if settings.Username != "" {
		fmt.Printf("last user: %s (log in with %s->server#login<password>)\n", settings.Username, settings.Username)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-engine.Done():
			fmt.Println("connection to the relay lost")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if line == "" {
				continue
			}
			if err := engine.Send(line); err != nil {
				slog.Error("send", "err", err)
			}
		}
	}
}
