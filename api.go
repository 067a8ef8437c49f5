package roomsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/golang/glog"
)

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

func defaultClient() *http.Client {
	// see https://medium.com/@nate510/don-t-use-go-s-default-http-client-4804cb19f779
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

type apiCallback[R any] interface {
	Result(result R, err error)
}

// for internal use
type simpleApiCallback[R any] struct {
	callback func(result R, err error)
}

func NewApiCallback[R any](callback func(result R, err error)) apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: callback,
	}
}

func NewNoopApiCallback[R any]() apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: func(result R, err error) {},
	}
}

func (self *simpleApiCallback[R]) Result(result R, err error) {
	self.callback(result, err)
}

type ApiCallbackResult[R any] struct {
	Result R
	Error  error
}

func NewBlockingApiCallback[R any]() (apiCallback[R], chan ApiCallbackResult[R]) {
	c := make(chan ApiCallbackResult[R])
	apiCallback := NewApiCallback[R](func(result R, err error) {
		c <- ApiCallbackResult[R]{
			Result: result,
			Error:  err,
		}
	})
	return apiCallback, c
}

// ErrRoomNotFound is the "new room" signal: the backend has no envelope for
// the room yet. Not a failure.
var ErrRoomNotFound = errors.New("room not found")

// BackendStatusError is a non-OK, non-404 response from the storage backend.
type BackendStatusError struct {
	Status int
}

func (self *BackendStatusError) Error() string {
	return fmt.Sprintf("backend status %d", self.Status)
}

// StorageApi talks to the scene and file endpoints of the storage backend.
// One request per operation, no internal retry.
type StorageApi struct {
	ctx    context.Context
	cancel context.CancelFunc

	apiUrl string

	client *http.Client
}

func NewStorageApi(apiUrl string) *StorageApi {
	return NewStorageApiWithContext(context.Background(), apiUrl)
}

func NewStorageApiWithContext(ctx context.Context, apiUrl string) *StorageApi {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &StorageApi{
		ctx:    cancelCtx,
		cancel: cancel,
		apiUrl: apiUrl,
		client: defaultClient(),
	}
}

// GetRoom fetches and decodes a room's stored envelope.
// Returns ErrRoomNotFound on 404.
func (self *StorageApi) GetRoom(roomId string) (*StoredScene, error) {
	status, body, err := self.do("GET", fmt.Sprintf("%s/rooms/%s", self.apiUrl, roomId), nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, ErrRoomNotFound
	}
	if status != http.StatusOK {
		return nil, &BackendStatusError{Status: status}
	}
	return DecodeEnvelope(body)
}

// PutRoom replaces a room's stored envelope wholesale.
func (self *StorageApi) PutRoom(roomId string, scene *StoredScene) error {
	envelope, err := EncodeEnvelope(scene)
	if err != nil {
		return err
	}
	status, _, err := self.do("PUT", fmt.Sprintf("%s/rooms/%s", self.apiUrl, roomId), envelope)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &BackendStatusError{Status: status}
	}
	return nil
}

func (self *StorageApi) PutFile(fileId FileId, payload []byte) error {
	status, _, err := self.do("PUT", fmt.Sprintf("%s/files/%s", self.apiUrl, fileId), payload)
	if err != nil {
		return err
	}
	if http.StatusBadRequest <= status {
		return &BackendStatusError{Status: status}
	}
	return nil
}

// GetFile returns the raw stored asset payload. Status >= 400 means
// "not found/failed" per the backend contract.
func (self *StorageApi) GetFile(fileId FileId) ([]byte, error) {
	status, body, err := self.do("GET", fmt.Sprintf("%s/files/%s", self.apiUrl, fileId), nil)
	if err != nil {
		return nil, err
	}
	if http.StatusBadRequest <= status {
		return nil, &BackendStatusError{Status: status}
	}
	return body, nil
}

// PatchFileTimestamp touches the server-tracked refresh timestamp for one
// asset. The response body is optional JSON; a malformed body is logged and
// ignored, only the status decides success.
func (self *StorageApi) PatchFileTimestamp(fileId FileId) error {
	status, body, err := self.do("PATCH", fmt.Sprintf("%s/files/%s/timestamp", self.apiUrl, fileId), nil)
	if err != nil {
		return err
	}
	if 0 < len(body) && !json.Valid(body) {
		glog.Warningf("[api]timestamp patch for %s returned a non-json body\n", fileId)
	}
	if status != http.StatusOK {
		return &BackendStatusError{Status: status}
	}
	return nil
}

func (self *StorageApi) do(method string, url string, requestBody []byte) (int, []byte, error) {
	var bodyReader io.Reader
	if requestBody != nil {
		bodyReader = bytes.NewReader(requestBody)
	}
	req, err := http.NewRequestWithContext(self.ctx, method, url, bodyReader)
	if err != nil {
		return 0, nil, err
	}
	if requestBody != nil {
		req.Header.Add("Content-Type", "application/octet-stream")
	}

	r, err := self.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer r.Body.Close()

	responseBody, err := io.ReadAll(r.Body)
	if err != nil {
		return r.StatusCode, nil, err
	}
	return r.StatusCode, responseBody, nil
}

func (self *StorageApi) Close() {
	self.cancel()
}
