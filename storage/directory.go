package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"retro-sync/domain"
)

const (
	boardPartition = "board"
	namePartition  = "name"

	maxQueueMessageBytes = 64 * 1024
)

var errExportTooLarge = errors.New("export exceeds queue message size")

type tableClient interface {
	AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	DeleteEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error)
}

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// Storage is the Azure backed board directory and export queue.
type Storage struct {
	boards  tableClient
	exports queueClient
}

// New creates a Storage instance from the given connection string.
func New(connStr, boardsTable, exportQueue string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	eq, err := azqueue.NewQueueClientFromConnectionString(connStr, exportQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{boards: svc.NewClient(boardsTable), exports: eq}, nil
}

type boardEntity struct {
	aztables.Entity
	Name      string `json:"Name"`
	AdminID   string `json:"AdminID"`
	CreatedAt int64  `json:"CreatedAt"`
}

type nameEntity struct {
	aztables.Entity
	BoardID string `json:"BoardID"`
}

// Reserve records info, failing with domain.ErrBoardNameTaken when another
// board already uses the name.
func (s *Storage) Reserve(ctx context.Context, info domain.BoardInfo) error {
	name, err := json.Marshal(nameEntity{
		Entity:  aztables.Entity{PartitionKey: namePartition, RowKey: nameKey(info.Name)},
		BoardID: info.ID,
	})
	if err != nil {
		return err
	}
	if _, err := s.boards.AddEntity(ctx, name, nil); err != nil {
		if hasStatus(err, http.StatusConflict) {
			return domain.ErrBoardNameTaken
		}
		return fmt.Errorf("storage: reserve name: %w", err)
	}

	board, err := json.Marshal(boardEntity{
		Entity:    aztables.Entity{PartitionKey: boardPartition, RowKey: info.ID},
		Name:      info.Name,
		AdminID:   info.AdminID,
		CreatedAt: info.CreatedAt,
	})
	if err != nil {
		return err
	}
	if _, err := s.boards.AddEntity(ctx, board, nil); err != nil {
		_, _ = s.boards.DeleteEntity(ctx, namePartition, nameKey(info.Name), nil)
		return fmt.Errorf("storage: add board: %w", err)
	}
	return nil
}

// Release removes the entries written by Reserve.
func (s *Storage) Release(ctx context.Context, info domain.BoardInfo) error {
	if _, err := s.boards.DeleteEntity(ctx, boardPartition, info.ID, nil); err != nil && !hasStatus(err, http.StatusNotFound) {
		return fmt.Errorf("storage: release board: %w", err)
	}
	if _, err := s.boards.DeleteEntity(ctx, namePartition, nameKey(info.Name), nil); err != nil && !hasStatus(err, http.StatusNotFound) {
		return fmt.Errorf("storage: release name: %w", err)
	}
	return nil
}

// Lookup returns the directory entry of board id.
func (s *Storage) Lookup(ctx context.Context, id string) (domain.BoardInfo, error) {
	resp, err := s.boards.GetEntity(ctx, boardPartition, id, nil)
	if err != nil {
		if hasStatus(err, http.StatusNotFound) {
			return domain.BoardInfo{}, domain.ErrBoardNotFound
		}
		return domain.BoardInfo{}, fmt.Errorf("storage: lookup board: %w", err)
	}
	return decodeBoardEntity(resp.Value)
}

func decodeBoardEntity(data []byte) (domain.BoardInfo, error) {
	var ent boardEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.BoardInfo{}, err
	}
	return domain.BoardInfo{ID: ent.RowKey, Name: ent.Name, AdminID: ent.AdminID, CreatedAt: ent.CreatedAt}, nil
}

// EnqueueExport hands a board snapshot to the export formatter.
func (s *Storage) EnqueueExport(ctx context.Context, exp domain.Export) error {
	data, err := json.Marshal(exp)
	if err != nil {
		return err
	}
	if len(data) > maxQueueMessageBytes {
		return fmt.Errorf("storage: board %s: %w", exp.BoardID, errExportTooLarge)
	}
	if _, err := s.exports.EnqueueMessage(ctx, string(data), nil); err != nil {
		return fmt.Errorf("storage: enqueue export: %w", err)
	}
	return nil
}

func hasStatus(err error, status int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == status
}
