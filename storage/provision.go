package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
)

const queueAlreadyExists = "QueueAlreadyExists"

// Provision creates the boards table and the export queue. Existing ones
// are left alone.
func Provision(ctx context.Context, connStr, boardsTable, exportQueue string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return fmt.Errorf("storage: tables client: %w", err)
	}
	if _, err := svc.NewClient(boardsTable).CreateTable(ctx, nil); err != nil && !alreadyExists(err, string(aztables.TableAlreadyExists)) {
		return fmt.Errorf("storage: create table %s: %w", boardsTable, err)
	}

	q, err := azqueue.NewQueueClientFromConnectionString(connStr, exportQueue, nil)
	if err != nil {
		return fmt.Errorf("storage: queue client: %w", err)
	}
	if _, err := q.Create(ctx, nil); err != nil && !alreadyExists(err, queueAlreadyExists) {
		return fmt.Errorf("storage: create queue %s: %w", exportQueue, err)
	}
	return nil
}

func alreadyExists(err error, code string) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.ErrorCode == code
}
