package models

import (
	"time"

	"github.com/google/uuid"
)

// UserType — роль пользователя в системе
type UserType string

const (
	UserClient UserType = "client"
	UserAgent  UserType = "agent"
)

// Valid проверяет, что роль известна системе
func (t UserType) Valid() bool {
	switch t {
	case UserClient, UserAgent:
		return true
	}
	return false
}

// User представляет собой пользователя чата (клиента или оператора)
type User struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	Type         UserType  `json:"type"`
	ConnectionID uuid.UUID `json:"connectionId"` // uuid.Nil — нет живого соединения
	CreatedAt    time.Time `json:"createdAt"`
}

// Connected сообщает, есть ли у пользователя живое соединение
func (u *User) Connected() bool {
	return u.ConnectionID != uuid.Nil
}

// SystemUserID — зарезервированный ID псевдо-отправителя служебных сообщений.
// Такой строки в хранилище нет, она разворачивается виртуально.
var SystemUserID = uuid.MustParse("00000000-0000-4000-8000-000000000001")

// SystemUser — псевдо-пользователь, от имени которого создаются
// контекстные сообщения при открытии чата
var SystemUser = User{
	ID:       SystemUserID,
	Username: "Claude",
	Type:     UserAgent,
}
