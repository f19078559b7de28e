package utils

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/audits_backend/config"
	"github.com/bsm/redislock"
	"github.com/go-playground/validator/v10"
)

// ProcessValidationErrors flattens binding failures into a field -> rule map
// for the API response.
func ProcessValidationErrors(err error) map[string]string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return map[string]string{"error": err.Error()}
	}

	errorResponse := make(map[string]string)
	for _, ve := range validationErrors {
		errorResponse[ve.Field()] = ve.Tag()
	}
	return errorResponse
}

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}

func DereferencePtr[T any](ptr *T) T {
	var zero T
	if ptr == nil {
		return zero
	}
	return *ptr
}

// remove duplicates, keeping first-seen order
func UniqueSlice[T comparable](s []T) []T {
	seen := make(map[T]bool, len(s))
	result := make([]T, 0, len(s))
	for _, v := range s {
		if !seen[v] {
			seen[v] = true
			result = append(result, v)
		}
	}
	return result
}

func GetCacheLifespan() time.Duration {
	lifespan, err := strconv.Atoi(os.Getenv("CACHE_LIFESPAN"))
	if err != nil {
		lifespan = 1
	}
	return time.Duration(lifespan) * time.Hour
}

/* generic functions */

func GetTypeName[T any]() string {
	var v T
	typeOfT := reflect.TypeOf(v)
	return typeOfT.Name()
}

// ObtainAuditLock grabs the cross-instance redis lock for one audit's
// recalculation chain. The caller must Release the returned lock.
// Redis being down is not fatal: the MySQL advisory lock taken on the posting
// connection is the guarantee; this one just rejects doomed requests early.
func ObtainAuditLock(ctx context.Context, auditId int) (*redislock.Lock, error) {
	locker := config.GetRedisLock()
	if locker == nil {
		return nil, nil
	}
	lockKey := fmt.Sprintf("auditscoring:%d", auditId)
	lock, err := locker.Obtain(ctx, lockKey, 30*time.Second, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrorRecalcInProgress
	} else if err != nil {
		config.LogError(config.GetLogger(), "utils", "ObtainAuditLock", "error obtaining audit lock", auditId, err)
		return nil, err
	}
	return lock, nil
}

func ReleaseAuditLock(ctx context.Context, lock *redislock.Lock) {
	if lock == nil {
		return
	}
	if err := lock.Release(ctx); err != nil {
		config.LogError(config.GetLogger(), "utils", "ReleaseAuditLock", "failed to release audit lock", nil, err)
	}
}
