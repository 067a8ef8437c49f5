package main

import (
	"context"
	"fmt"
	"os"
	"syscall"

	"github.com/docopt/docopt-go"
	"github.com/google/uuid"
	"golang.org/x/term"

	"scrawlspace.com/roomsync"
)

const RoomsyncCtlVersion = "0.0.1"

func main() {
	usage := `Room sync control.

Usage:
    roomsyncctl generate-key
    roomsyncctl load --api_url=<api_url> --room=<room> [--key=<key>] [--out=<out>]
    roomsyncctl save --api_url=<api_url> --socket_url=<socket_url> --room=<room> [--key=<key>] --file=<file>
    roomsyncctl upload-files --api_url=<api_url> <file>...
    roomsyncctl refresh --api_url=<api_url> --room=<room> [--key=<key>]

Options:
    -h --help                  Show this screen.
    --version                  Show version.
    --api_url=<api_url>        Storage backend base url.
    --socket_url=<socket_url>  Collab socket url (ws:// or wss://).
    --room=<room>              Room id.
    --key=<key>                Room key. Prompted for when omitted.
    --out=<out>                Output file, - for stdout [default: -].
    --file=<file>              JSON file holding the scene elements.
    `

	opts, err := docopt.ParseArgs(usage, os.Args[1:], RoomsyncCtlVersion)
	if err != nil {
		panic(err)
	}

	if generateKey_, _ := opts.Bool("generate-key"); generateKey_ {
		generateKey()
	} else if load_, _ := opts.Bool("load"); load_ {
		load(opts)
	} else if save_, _ := opts.Bool("save"); save_ {
		save(opts)
	} else if uploadFiles_, _ := opts.Bool("upload-files"); uploadFiles_ {
		uploadFiles(opts)
	} else if refresh_, _ := opts.Bool("refresh"); refresh_ {
		refresh(opts)
	} else {
		docopt.PrintHelpAndExit(nil, usage)
	}
}

func generateKey() {
	roomKey, err := roomsync.GenerateRoomKey()
	if err != nil {
		exitError(err)
	}
	fmt.Printf("%s\n", roomKey)
}

func load(opts docopt.Opts) {
	apiUrl := requireString(opts, "--api_url")
	roomId := requireString(opts, "--room")
	roomKey := requireRoomKey(opts)

	api := roomsync.NewStorageApi(apiUrl)
	defer api.Close()
	scenes := roomsync.NewSceneSyncClientWithDefaults(api, roomsync.NewRevisionCache())

	elements, err := roomsync.TraceWithReturnError(
		fmt.Sprintf("[ctl]load %s", roomId),
		func() ([]roomsync.Element, error) {
			return scenes.Load(roomId, roomKey)
		},
	)
	if err != nil {
		exitError(err)
	}

	elementsJson, err := roomsync.ElementsToJson(elements)
	if err != nil {
		exitError(err)
	}

	out, _ := opts.String("--out")
	if out == "" || out == "-" {
		fmt.Printf("%s\n", elementsJson)
	} else {
		if err := os.WriteFile(out, elementsJson, 0644); err != nil {
			exitError(err)
		}
	}
}

func save(opts docopt.Opts) {
	apiUrl := requireString(opts, "--api_url")
	socketUrl := requireString(opts, "--socket_url")
	roomId := requireString(opts, "--room")
	roomKey := requireRoomKey(opts)
	elementsPath := requireString(opts, "--file")

	elementsJson, err := os.ReadFile(elementsPath)
	if err != nil {
		exitError(err)
	}
	elements, err := roomsync.ElementsFromJson(elementsJson)
	if err != nil {
		exitError(err)
	}

	api := roomsync.NewStorageApi(apiUrl)
	defer api.Close()
	scenes := roomsync.NewSceneSyncClientWithDefaults(api, roomsync.NewRevisionCache())
	scenes.SetAssetSync(roomsync.NewAssetSyncClientWithDefaults(api, scenes))

	session := roomsync.NewSessionWithDefaults(context.Background(), roomId, roomKey)
	defer session.Close()
	if err := session.Connect(socketUrl); err != nil {
		exitError(err)
	}

	savedElements, saved := scenes.Save(session, elements, nil)
	if !saved {
		exitError(fmt.Errorf("not saved"))
	}
	fmt.Printf("saved %d elements to %s\n", len(savedElements), roomId)
}

func uploadFiles(opts docopt.Opts) {
	apiUrl := requireString(opts, "--api_url")
	paths, _ := opts["<file>"].([]string)
	if len(paths) == 0 {
		exitError(fmt.Errorf("no files given"))
	}

	api := roomsync.NewStorageApi(apiUrl)
	defer api.Close()
	assets := roomsync.NewAssetSyncClientWithDefaults(api, nil)

	payloads := []roomsync.AssetPayload{}
	pathsByFileId := map[roomsync.FileId]string{}
	for _, path := range paths {
		buffer, err := os.ReadFile(path)
		if err != nil {
			exitError(err)
		}
		fileId := roomsync.FileId(uuid.NewString())
		pathsByFileId[fileId] = path
		payloads = append(payloads, roomsync.AssetPayload{
			Id:     fileId,
			Buffer: buffer,
		})
	}

	savedFiles, erroredFiles := assets.SaveAssets(payloads)
	for _, fileId := range savedFiles {
		fmt.Printf("%s <- %s\n", fileId, pathsByFileId[fileId])
	}
	for _, fileId := range erroredFiles {
		fmt.Fprintf(os.Stderr, "failed: %s (%s)\n", fileId, pathsByFileId[fileId])
	}
	if 0 < len(erroredFiles) {
		os.Exit(1)
	}
}

func refresh(opts docopt.Opts) {
	apiUrl := requireString(opts, "--api_url")
	roomId := requireString(opts, "--room")
	roomKey := requireRoomKey(opts)

	api := roomsync.NewStorageApi(apiUrl)
	defer api.Close()
	scenes := roomsync.NewSceneSyncClientWithDefaults(api, roomsync.NewRevisionCache())
	assets := roomsync.NewAssetSyncClientWithDefaults(api, scenes)

	refreshed, errored := assets.RefreshAssetTimestamps(roomId, roomKey)
	for _, fileId := range refreshed {
		fmt.Printf("refreshed %s\n", fileId)
	}
	for _, fileId := range errored {
		fmt.Fprintf(os.Stderr, "errored %s\n", fileId)
	}
}

func requireString(opts docopt.Opts, key string) string {
	value, err := opts.String(key)
	if err != nil || value == "" {
		exitError(fmt.Errorf("%s is required", key))
	}
	return value
}

// keys stay out of argv unless the caller insists
func requireRoomKey(opts docopt.Opts) string {
	roomKey, _ := opts.String("--key")
	if roomKey == "" {
		fmt.Fprintf(os.Stderr, "room key: ")
		keyBytes, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintf(os.Stderr, "\n")
		if err != nil {
			exitError(err)
		}
		roomKey = string(keyBytes)
	}
	if _, err := roomsync.ParseRoomKey(roomKey); err != nil {
		exitError(err)
	}
	return roomKey
}

func exitError(err error) {
	fmt.Fprintf(os.Stderr, "%s\n", err)
	os.Exit(1)
}
