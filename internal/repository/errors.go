package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/lib/pq"

	"github.com/hitoshi/dscvr/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反のエラーコード。
const uniqueViolation = "23505"

// isUniqueViolation はerrが一意制約違反かを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return false
}

// isUnavailable はerrが永続化先そのものに到達できないことを表すかを判定する。
func isUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// クラス08: 接続例外、57P0x: 管理者によるシャットダウン等、53300: 接続数超過
		code := string(pqErr.Code)
		return strings.HasPrefix(code, "08") || strings.HasPrefix(code, "57P0") || code == "53300"
	}

	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// wrapError は操作の説明を付けてエラーをラップする。
// 一意制約違反はmodel.ErrDuplicateArticleに、接続不能はmodel.ErrStorageUnavailableに変換する。
func wrapError(op string, err error) error {
	switch {
	case isUniqueViolation(err):
		return fmt.Errorf("%s: %w", op, model.ErrDuplicateArticle)
	case isUnavailable(err):
		return fmt.Errorf("%s: %w: %v", op, model.ErrStorageUnavailable, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
