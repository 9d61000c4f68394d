// Package access реализует проверку прав доступа по роли аккаунта.
package access

import (
	"errors"

	"github.com/mmeshcher/jobboard-system/internal/model"
)

// ErrUnauthenticated возвращается, когда аккаунт не аутентифицирован.
var (
	ErrUnauthenticated = errors.New("authentication required")
	// ErrRoleSelectionRequired возвращается аутентифицированному аккаунту,
	// который ещё не выбрал роль.
	ErrRoleSelectionRequired = errors.New("role selection required")
	// ErrForbiddenRole возвращается, когда роль аккаунта не совпадает с требуемой.
	ErrForbiddenRole = errors.New("operation forbidden for account role")
)

// Authorize проверяет, может ли аккаунт выполнить операцию, требующую роль
// required. Правила применяются по порядку, срабатывает первое: нет аккаунта,
// роль не выбрана, роль не совпадает. Сама проверка ничего не знает о том,
// зачем операции нужна роль — требуемую роль объявляет вызывающая сторона.
// required == RoleUnset означает, что достаточно аутентификации.
func Authorize(acc *model.Account, required model.Role) error {
	if acc == nil {
		return ErrUnauthenticated
	}
	if required == model.RoleUnset {
		return nil
	}
	if acc.Role == model.RoleUnset {
		return ErrRoleSelectionRequired
	}
	if acc.Role != required {
		return ErrForbiddenRole
	}
	return nil
}
