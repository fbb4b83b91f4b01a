package directoryclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

// JSON ответ каталога пользователей
type DirectoryAnswer struct {
	Card uint64 `json:"card"`
	Key  string `json:"key"`
	Name string `json:"name"`
}

var (
	ErrNotFound = errors.New("card is not enrolled in directory")
	ErrBadData  = errors.New("directory answer has no user key")
)

type DirectoryClient interface {
	GetIdentity(ctx context.Context, card uint64) (DirectoryAnswer, error)
}

type directoryClient struct {
	client *resty.Client
}

func NewDirectoryClient(serviceAddr string, timeout time.Duration) DirectoryClient {
	client := resty.New().
		SetBaseURL(serviceAddr).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return directoryClient{client: client}
}

func (client directoryClient) GetIdentity(ctx context.Context, card uint64) (DirectoryAnswer, error) {
	path := "/api/cards/"

	getreq := client.client.R().SetContext(ctx)
	getreq.Method = http.MethodGet
	getreq.URL = path + strconv.FormatUint(card, 10)
	getresp, err := getreq.Send()
	if err != nil {
		return DirectoryAnswer{}, err
	}

	switch getresp.StatusCode() {
	case http.StatusOK:
		var answer DirectoryAnswer
		if err = json.Unmarshal(getresp.Body(), &answer); err != nil {
			return DirectoryAnswer{}, err
		}
		if answer.Key == "" {
			return DirectoryAnswer{}, ErrBadData
		}
		return answer, nil
	case http.StatusNotFound, http.StatusNoContent:
		return DirectoryAnswer{}, ErrNotFound
	default:
		return DirectoryAnswer{}, fmt.Errorf("directory request status: %d", getresp.StatusCode())
	}
}
