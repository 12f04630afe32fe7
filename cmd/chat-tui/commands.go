package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/iyunix/go-madlen/internal/domain"
)

// maxImageBytes matches the server's request body limit with room for base64.
const maxImageBytes = 30 << 20

var errUnknownCommand = errors.New("unknown command, try /help")

type command struct {
	Name string
	Args []string
	// Rest is everything after the first argument, spaces preserved.
	Rest string
}

var commandHelp = []string{
	"/new                 start a new chat",
	"/models              list models",
	"/model <n|id>        switch model",
	"/chats               reload the chat list",
	"/open <n|id>         open a chat",
	"/rename <n|id> text  rename a chat",
	"/delete <n|id>       delete a chat",
	"/image <path>        attach an image",
	"/detach              drop the attached image",
	"/quit                exit",
}

func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return command{}, fmt.Errorf("not a command: %q", line)
	}
	fields := strings.Fields(line[1:])
	if len(fields) == 0 {
		return command{}, errUnknownCommand
	}

	cmd := command{Name: strings.ToLower(fields[0]), Args: fields[1:]}
	if len(cmd.Args) > 0 {
		after := strings.TrimSpace(line[1+len(fields[0]):])
		cmd.Rest = strings.TrimSpace(strings.TrimPrefix(after, cmd.Args[0]))
	}

	switch cmd.Name {
	case "new", "models", "chats", "detach", "quit", "help":
		return cmd, nil
	case "model", "open", "delete", "image":
		if len(cmd.Args) < 1 {
			return command{}, fmt.Errorf("/%s needs an argument", cmd.Name)
		}
		return cmd, nil
	case "rename":
		if len(cmd.Args) < 2 {
			return command{}, errors.New("/rename needs a chat and a title")
		}
		return cmd, nil
	}
	return command{}, errUnknownCommand
}

// resolveChat accepts a 1-based position in the sidebar or a chat id.
func resolveChat(chats []domain.Chat, ref string) (string, error) {
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(chats) {
			return "", fmt.Errorf("no chat at position %d", n)
		}
		return chats[n-1].ID, nil
	}
	for _, c := range chats {
		if c.ID == ref {
			return c.ID, nil
		}
	}
	return "", fmt.Errorf("chat %q not found", ref)
}

func imageDataURI(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.Size() > maxImageBytes {
		return "", fmt.Errorf("image is larger than %d MB", maxImageBytes>>20)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return "", fmt.Errorf("%s is not an image (%s)", path, mime)
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
