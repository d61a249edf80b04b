// README: Identifier types shared by modules.
package types

import "strconv"

// ID is the surrogate key of persisted rows (bookings, offers, ratings).
type ID int64

func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

func ParseID(s string) (ID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, strconv.ErrSyntax
	}
	return ID(n), nil
}

// UserID identifies a passenger or driver as issued by the auth provider.
type UserID string

func UserIDPtr(v UserID) *UserID {
	return &v
}
