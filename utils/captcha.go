package utils

import (
	"time"

	"github.com/mojocn/base64Captcha"
)

const captchaTTL = 10 * time.Minute

var captchaDriver = base64Captcha.NewDriverDigit(40, 120, 5, 0.7, 80)

// captchaStore keeps answers in Redis so any instance behind a load balancer
// can verify them, and in process memory when Redis is not in use.
type captchaStore struct {
	mem base64Captcha.Store
}

var captchas = &captchaStore{mem: base64Captcha.NewMemoryStore(10240, captchaTTL)}

func (s *captchaStore) key(id string) string {
	return "captcha:" + id
}

func (s *captchaStore) Set(id string, value string) error {
	if rc := GetRedis(); rc != nil {
		ctx, cancel := redisCtx()
		defer cancel()
		return rc.Set(ctx, s.key(id), value, captchaTTL).Err()
	}
	return s.mem.Set(id, value)
}

func (s *captchaStore) Get(id string, clear bool) string {
	rc := GetRedis()
	if rc == nil {
		return s.mem.Get(id, clear)
	}
	ctx, cancel := redisCtx()
	defer cancel()
	if clear {
		v, err := rc.GetDel(ctx, s.key(id)).Result()
		if err != nil {
			return ""
		}
		return v
	}
	v, err := rc.Get(ctx, s.key(id)).Result()
	if err != nil {
		return ""
	}
	return v
}

func (s *captchaStore) Verify(id, answer string, clear bool) bool {
	v := s.Get(id, clear)
	return v != "" && v == answer
}

// GenerateCaptcha creates a digit captcha and returns its id and image data URI.
func GenerateCaptcha() (string, string, error) {
	c := base64Captcha.NewCaptcha(captchaDriver, captchas)
	id, b64, _, err := c.Generate()
	return id, b64, err
}

// VerifyCaptcha checks and consumes the answer for id.
func VerifyCaptcha(id, answer string) bool {
	if id == "" || answer == "" {
		return false
	}
	return captchas.Verify(id, answer, true)
}
