package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Amund211/wpaccount/internal/domain"
	"github.com/Amund211/wpaccount/internal/logging"
	"github.com/Amund211/wpaccount/internal/reporting"
)

var ErrPanic = errors.New("panic while getting user details")

// AccountServiceRemote fetches the account details of a user from the remote account service
type AccountServiceRemote interface {
	// GetUserDetails returns immediately. Exactly one of success or failure is called
	// once, from another goroutine, when the details are available or the call has failed.
	// If ctx is done first, failure receives ctx.Err() and the late result is discarded.
	GetUserDetails(ctx context.Context, success func(domain.UserDetails), failure func(error))
}

type accountServiceRemote struct {
	getUserDetails GetUserDetails
	token          string

	inFlight sync.WaitGroup
}

var _ AccountServiceRemote = (*accountServiceRemote)(nil)

// NewAccountServiceRemote binds getUserDetails to the given bearer token
func NewAccountServiceRemote(getUserDetails GetUserDetails, token string) *accountServiceRemote {
	return &accountServiceRemote{
		getUserDetails: getUserDetails,
		token:          token,
	}
}

type userDetailsResult struct {
	details domain.UserDetails
	err     error
}

func (r *accountServiceRemote) GetUserDetails(ctx context.Context, success func(domain.UserDetails), failure func(error)) {
	if success == nil {
		success = func(domain.UserDetails) {}
	}
	if failure == nil {
		failure = func(error) {}
	}

	r.inFlight.Add(1)
	go func() {
		defer r.inFlight.Done()

		result := r.await(ctx)
		deliver(ctx, result, success, failure)
	}()
}

// Wait blocks until every call to GetUserDetails has invoked its callback
func (r *accountServiceRemote) Wait() {
	r.inFlight.Wait()
}

// GetUserDetailsSync blocks until the details are available, under the same rules as GetUserDetails
func (r *accountServiceRemote) GetUserDetailsSync(ctx context.Context) (domain.UserDetails, error) {
	results := make(chan userDetailsResult, 1)
	r.GetUserDetails(
		ctx,
		func(details domain.UserDetails) {
			results <- userDetailsResult{details: details}
		},
		func(err error) {
			results <- userDetailsResult{err: err}
		},
	)

	result := <-results
	return result.details, result.err
}

func (r *accountServiceRemote) await(ctx context.Context) userDetailsResult {
	if err := ctx.Err(); err != nil {
		return userDetailsResult{err: err}
	}

	// Buffered so the worker can always finish, even when nobody is listening anymore
	results := make(chan userDetailsResult, 1)
	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				err := fmt.Errorf("%w: %v", ErrPanic, recovered)
				reporting.Report(reporting.WithHub(ctx), err)
				results <- userDetailsResult{err: err}
			}
		}()

		details, err := r.getUserDetails(ctx, r.token)
		results <- userDetailsResult{details: details, err: err}
	}()

	select {
	case result := <-results:
		return result
	case <-ctx.Done():
		logging.FromContext(ctx).InfoContext(ctx, "Gave up waiting for user details", "error", ctx.Err().Error())
		return userDetailsResult{err: ctx.Err()}
	}
}

func deliver(ctx context.Context, result userDetailsResult, success func(domain.UserDetails), failure func(error)) {
	defer func() {
		// Callback panics are reported instead of crashing the process
		if recovered := recover(); recovered != nil {
			reporting.Report(reporting.WithHub(ctx), fmt.Errorf("callback panicked: %v", recovered))
		}
	}()

	if result.err != nil {
		failure(result.err)
		return
	}
	success(result.details)
}
