package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/emberpeak/countflow_backend/config"
	"github.com/emberpeak/countflow_backend/utils"
	"gorm.io/gorm"
)

// AcquireStoreCountLock serializes session mutations per store across
// instances using MySQL advisory locks. GET_LOCK is connection-scoped, so
// this must be called on the same *gorm.DB that runs the mutation
// transaction. A bounded wait maps to a retryable conflict instead of
// queueing callers indefinitely.
func AcquireStoreCountLock(tx *gorm.DB, storeId int) error {
	lockName := fmt.Sprintf("countstore:%d", storeId)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 5)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("%w: store %d count lock busy", utils.ErrorConflict, storeId)
	}
	return nil
}

func ReleaseStoreCountLock(tx *gorm.DB, storeId int) {
	lockName := fmt.Sprintf("countstore:%d", storeId)
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}

// acquireRedisStoreLock is a best-effort optimization in front of the MySQL
// advisory lock: it sheds obviously concurrent callers before they hold a
// DB connection. Redis being down never blocks the operation; the MySQL
// lock remains the source of truth.
func acquireRedisStoreLock(ctx context.Context, storeId int) *redislock.Lock {
	locker := config.GetRedisLock()
	if locker == nil {
		return nil
	}
	key := fmt.Sprintf("countstore:lock:%d", storeId)
	lock, err := locker.Obtain(ctx, key, 10*time.Second, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 20),
	})
	if err != nil {
		return nil
	}
	return lock
}

func releaseRedisStoreLock(ctx context.Context, lock *redislock.Lock) {
	if lock == nil {
		return
	}
	_ = lock.Release(ctx)
}
