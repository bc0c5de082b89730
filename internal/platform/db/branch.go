package db

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// BranchMiddleware resolves the hospital branch for the request and pins a
// pooled connection for its duration. The branch comes from the JWT claim
// (set by the auth middleware) or the X-Branch-ID header.
func BranchMiddleware(pool *pgxpool.Pool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			branchID, err := extractBranchID(c)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid branch identifier")
			}

			ctx := c.Request().Context()
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer conn.Release()

			ctx = context.WithValue(ctx, BranchIDKey, branchID)
			ctx = WithConn(ctx, conn)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("branch_id", branchID)

			return next(c)
		}
	}
}

func extractBranchID(c echo.Context) (uuid.UUID, error) {
	if bid, ok := c.Get("jwt_branch_id").(string); ok && bid != "" {
		return uuid.Parse(bid)
	}
	if bid := c.Request().Header.Get("X-Branch-ID"); bid != "" {
		return uuid.Parse(bid)
	}
	return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "branch not resolved")
}

// BranchFromContext retrieves the branch ID from context. uuid.Nil when the
// request was not branch-scoped.
func BranchFromContext(ctx context.Context) uuid.UUID {
	bid, _ := ctx.Value(BranchIDKey).(uuid.UUID)
	return bid
}
