package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Roles used across the blood bank surface.
const (
	RoleAdmin          = "admin"
	RoleLabTechnician  = "lab_technician"
	RoleLabSupervisor  = "lab_supervisor"
	RoleBloodBankIssue = "blood_bank_issuer"
	RoleClinician      = "clinician"
	RoleNurse          = "nurse"
)

// RequireRole returns middleware that checks if the principal has at least
// one of the specified roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p := PrincipalFromContext(c.Request().Context())
			if p.HasRole(roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}
