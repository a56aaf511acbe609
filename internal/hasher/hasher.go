// Package hasher содержит хеширование паролей для обоих типов учётных записей.
package hasher

import "golang.org/x/crypto/bcrypt"

// Hasher описывает контракт хеширования и проверки паролей,
// независимый от конкретной схемы хеширования.
type Hasher interface {
	Hash(plain string) (string, error)
	Verify(digest, plain string) bool
}

// Bcrypt реализует Hasher на основе bcrypt.
type Bcrypt struct {
	cost int
}

// NewBcrypt создаёт Bcrypt-хешер со стандартной стоимостью.
func NewBcrypt() *Bcrypt {
	return &Bcrypt{cost: bcrypt.DefaultCost}
}

// Hash возвращает bcrypt-дайджест пароля.
func (b *Bcrypt) Hash(plain string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(plain), b.cost)
	if err != nil {
		return "", err
	}
	return string(digest), nil
}

// Verify сравнивает дайджест с паролем.
func (b *Bcrypt) Verify(digest, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plain)) == nil
}
