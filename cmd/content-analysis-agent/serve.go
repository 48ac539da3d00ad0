// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"sync"

	"github.com/bureau-foundation/contentanalysis/lib/agentserver"
)

// sessionSource is the part of *agentserver.Agent serve uses.
type sessionSource interface {
	NextSession(ctx context.Context) (*agentserver.Session, error)
	Stop()
}

// serve hands sessions to at most workers concurrent goroutines until
// ctx is done or the source stops. It stops the source and waits for
// in-flight sessions before returning.
func serve(ctx context.Context, source sessionSource, handler *analyzer, workers int) error {
	stopWatch := context.AfterFunc(ctx, source.Stop)
	defer stopWatch()

	var wg sync.WaitGroup
	defer wg.Wait()
	defer source.Stop()

	slots := make(chan struct{}, max(workers, 1))
	for {
		session, err := source.NextSession(ctx)
		if err != nil {
			// A bare ErrStopped is a requested stop. A wrapped one
			// carries the dispatch failure that ended the pool.
			if ctx.Err() != nil || err == agentserver.ErrStopped {
				return nil
			}
			return err
		}

		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			session.Close()
			return nil
		}
		wg.Go(func() {
			defer func() { <-slots }()
			handler.handle(ctx, session)
		})
	}
}
