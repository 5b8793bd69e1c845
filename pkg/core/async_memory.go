package core

import (
	"context"
	"sync"
)

// AsyncClient provides asynchronous memory operations.
//
// It wraps the synchronous Client and executes each operation in its own
// goroutine. Results are delivered on buffered channels that receive exactly
// one value and are then closed, so callers may drop them without leaking.
//
// Example:
//
//	async := core.NewAsyncClient(client)
//	defer async.Close()
//
//	resultChan := async.StoreAsync(ctx, "u1", "", "I love jazz music", core.MemoryTypePreference)
//	result := <-resultChan
//	if result.Error != nil {
//	    log.Fatal(result.Error)
//	}
type AsyncClient struct {
	*Client
	wg sync.WaitGroup
}

// NewAsyncClient wraps client.
func NewAsyncClient(client *Client) *AsyncClient {
	return &AsyncClient{Client: client}
}

// StoreAsync stores a memory asynchronously.
//
// Returns:
//   - <-chan *MemoryResult: Channel that receives the new ID or the error
func (ac *AsyncClient) StoreAsync(ctx context.Context, ownerID, domainID, content string, memoryType MemoryType, opts ...StoreOption) <-chan *MemoryResult {
	resultChan := make(chan *MemoryResult, 1)
	ac.wg.Add(1)

	go func() {
		defer ac.wg.Done()
		id, err := ac.Store(ctx, ownerID, domainID, content, memoryType, opts...)
		resultChan <- &MemoryResult{ID: id, Error: err}
		close(resultChan)
	}()

	return resultChan
}

// RetrieveAsync retrieves memories asynchronously.
func (ac *AsyncClient) RetrieveAsync(ctx context.Context, ownerID, domainID, query string, opts ...RetrieveOption) <-chan *AsyncRetrieveResult {
	resultChan := make(chan *AsyncRetrieveResult, 1)
	ac.wg.Add(1)

	go func() {
		defer ac.wg.Done()
		results, err := ac.Retrieve(ctx, ownerID, domainID, query, opts...)
		resultChan <- &AsyncRetrieveResult{Results: results, Error: err}
		close(resultChan)
	}()

	return resultChan
}

// ForgetAsync deletes a memory asynchronously.
func (ac *AsyncClient) ForgetAsync(ctx context.Context, memoryID string, opts ...ForgetOption) <-chan *ForgetResult {
	resultChan := make(chan *ForgetResult, 1)
	ac.wg.Add(1)

	go func() {
		defer ac.wg.Done()
		deleted, err := ac.Forget(ctx, memoryID, opts...)
		resultChan <- &ForgetResult{Deleted: deleted, Error: err}
		close(resultChan)
	}()

	return resultChan
}

// Wait blocks until every pending asynchronous operation and background
// cleanup has finished.
func (ac *AsyncClient) Wait() {
	ac.wg.Wait()
	ac.Client.Wait()
}

// Close waits for pending operations and closes the underlying client.
func (ac *AsyncClient) Close() error {
	ac.wg.Wait()
	return ac.Client.Close()
}
