package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/pkg/errors"

	"github.com/moorcd/moor/pkg/environment"
	"github.com/moorcd/moor/pkg/guid"
	"github.com/moorcd/moor/pkg/retry"
)

// DefaultLockPolicy gives a contended acquisition a couple of minutes
// before giving up.
var DefaultLockPolicy = retry.Exponential(10, time.Second, 30*time.Second)

// ErrLockNotHeld means an unlock found the lock missing, or held by
// someone else.
var ErrLockNotHeld = errors.New("lock not held")

// LockInfo identifies a lock holder.
type LockInfo struct {
	ID        string    `json:"id"`
	Who       string    `json:"who"`
	Operation string    `json:"operation"`
	Created   time.Time `json:"created"`
}

// NewLockInfo describes the calling process, so a stuck lock can be
// traced back to whoever took it.
func NewLockInfo(operation string) LockInfo {
	who := "unknown"
	if u, err := user.Current(); err == nil && u.Username != "" {
		who = u.Username
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		who = who + "@" + host
	}
	return LockInfo{
		ID:        guid.New(),
		Who:       who,
		Operation: operation,
	}
}

func (i LockInfo) String() string {
	return fmt.Sprintf("%s by %s since %s (%s)", i.Operation, i.Who, i.Created.Format(time.RFC3339), i.ID)
}

// LockHeldError means acquisition gave up while someone else held the
// lock. ForceUnlock breaks it if the holder is known to be gone.
type LockHeldError struct {
	Environment environment.Environment
	Holder      LockInfo
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("environment %s is locked: %s", e.Environment, e.Holder)
}

// Lock is a held partition lock. Release it with Unlock.
type Lock struct {
	partition *Partition
	info      LockInfo
	item      string
}

func (l *Lock) Info() LockInfo {
	return l.info
}

// Lock takes the partition's lock, retrying per the policy while it is
// contended. Exhausting the policy returns a LockHeldError naming the
// holder.
func (p *Partition) Lock(ctx context.Context, info LockInfo, policy retry.Policy) (*Lock, error) {
	b := p.backend
	if info.ID == "" {
		info.ID = guid.New()
	}
	info.Created = b.clock.Now().UTC()
	item, err := json.Marshal(info)
	if err != nil {
		return nil, err
	}

	waiting := false
	err = retry.Do(ctx, b.clock, policy, func(ctx context.Context) (bool, error) {
		_, err := b.db.PutItemWithContext(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(b.cfg.Table),
			Item: map[string]*dynamodb.AttributeValue{
				lockKeyAttribute: {S: aws.String(p.lockID())},
				"Info":           {S: aws.String(string(item))},
			},
			ConditionExpression: aws.String("attribute_not_exists(" + lockKeyAttribute + ")"),
		})
		if err != nil {
			if aerr, ok := err.(awserr.Error); ok && aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException {
				if !waiting {
					waiting = true
					if holder, ok, herr := p.readHolder(ctx); herr == nil && ok {
						b.logger.Log("info", "waiting for lock", "environment", p.env, "holder", holder.String())
					}
				}
				return false, nil
			}
			return false, errors.Wrapf(err, "locking environment %s", p.env)
		}
		return true, nil
	})
	switch {
	case err == nil:
		return &Lock{partition: p, info: info, item: string(item)}, nil
	case errors.Cause(err) == retry.ErrExhausted:
		holder, ok, herr := p.readHolder(ctx)
		if herr != nil {
			return nil, herr
		}
		if !ok {
			// Holder vanished between the last attempt and now; the
			// caller can simply try again.
			return nil, errors.Wrapf(err, "locking environment %s", p.env)
		}
		return nil, &LockHeldError{Environment: p.env, Holder: holder}
	default:
		return nil, err
	}
}

// Unlock releases the lock, verifying it is still ours. A lock that
// has been force-unlocked (and possibly retaken) yields ErrLockNotHeld.
func (l *Lock) Unlock(ctx context.Context) error {
	b := l.partition.backend
	_, err := b.db.DeleteItemWithContext(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(b.cfg.Table),
		Key: map[string]*dynamodb.AttributeValue{
			lockKeyAttribute: {S: aws.String(l.partition.lockID())},
		},
		ConditionExpression: aws.String("Info = :info"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":info": {S: aws.String(l.item)},
		},
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException {
			return ErrLockNotHeld
		}
		return errors.Wrapf(err, "unlocking environment %s", l.partition.env)
	}
	return nil
}

// ForceUnlock deletes the lock no matter who holds it, returning the
// evicted holder. Only for recovering from a crashed process; breaking
// a live deploy's lock corrupts its view of the environment.
func (p *Partition) ForceUnlock(ctx context.Context) (LockInfo, error) {
	holder, ok, err := p.readHolder(ctx)
	if err != nil {
		return LockInfo{}, err
	}
	if !ok {
		return LockInfo{}, ErrLockNotHeld
	}
	b := p.backend
	if _, err := b.db.DeleteItemWithContext(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(b.cfg.Table),
		Key: map[string]*dynamodb.AttributeValue{
			lockKeyAttribute: {S: aws.String(p.lockID())},
		},
	}); err != nil {
		return LockInfo{}, errors.Wrapf(err, "force-unlocking environment %s", p.env)
	}
	b.logger.Log("warning", "lock forced", "environment", p.env, "holder", holder.String())
	return holder, nil
}

func (p *Partition) readHolder(ctx context.Context) (LockInfo, bool, error) {
	b := p.backend
	out, err := b.db.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(b.cfg.Table),
		Key: map[string]*dynamodb.AttributeValue{
			lockKeyAttribute: {S: aws.String(p.lockID())},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return LockInfo{}, false, errors.Wrapf(err, "reading lock for environment %s", p.env)
	}
	attr, ok := out.Item["Info"]
	if !ok || attr.S == nil {
		return LockInfo{}, false, nil
	}
	var holder LockInfo
	if err := json.Unmarshal([]byte(*attr.S), &holder); err != nil {
		return LockInfo{}, false, errors.Wrap(err, "decoding lock holder")
	}
	return holder, true, nil
}
