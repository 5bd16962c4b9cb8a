package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"neuroconnect/internal/config"
	"neuroconnect/internal/models"
)

var testEpoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Session{}, &models.Message{}))
	return db
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

type testParties struct {
	student  models.User
	doctor   models.User
	other    models.User
	pending  models.User // 未审核医生
	disabled models.User
}

func seedParties(t *testing.T, db *gorm.DB) testParties {
	t.Helper()
	p := testParties{
		student:  models.User{Username: "stu", Email: "stu@example.com", Name: "Li Lei", Role: models.RoleStudent, Status: models.UserStatusActive},
		doctor:   models.User{Username: "doc", Email: "doc@example.com", Name: "Dr. Wang", Role: models.RoleDoctor, Status: models.UserStatusActive, Approved: true},
		other:    models.User{Username: "stu2", Email: "stu2@example.com", Name: "Han Meimei", Role: models.RoleStudent, Status: models.UserStatusActive},
		pending:  models.User{Username: "doc2", Email: "doc2@example.com", Name: "Dr. Zhao", Role: models.RoleDoctor, Status: models.UserStatusActive},
		disabled: models.User{Username: "doc3", Email: "doc3@example.com", Name: "Dr. Qian", Role: models.RoleDoctor, Status: models.UserStatusInactive, Approved: true},
	}
	for _, u := range []*models.User{&p.student, &p.doctor, &p.other, &p.pending, &p.disabled} {
		require.NoError(t, db.Create(u).Error)
	}
	return p
}

// recordingSink 记录发布的生命周期事件
type recordingSink struct {
	mu     sync.Mutex
	events []LifecycleEvent
}

func (r *recordingSink) Publish(ev LifecycleEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingSink) snapshot() []LifecycleEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]LifecycleEvent, len(r.events))
	copy(out, r.events)
	return out
}

type sessionFixture struct {
	db      *gorm.DB
	clock   *ManualClock
	sink    *recordingSink
	svc     *SessionService
	parties testParties
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	db := newTestDB(t)
	f := &sessionFixture{
		db:      db,
		clock:   NewManualClock(testEpoch),
		sink:    &recordingSink{},
		parties: seedParties(t, db),
	}
	f.svc = NewSessionService(
		NewGormSessionStore(db), NewGormPartyDirectory(db), f.sink, f.clock,
		config.GetDefaultConfig().Session, quietLogger(),
	)
	return f
}

func intPtr(v int) *int { return &v }

// request 学生向医生发起一个从 start 开始的会话
func (f *sessionFixture) request(t *testing.T, start time.Time, minutes *int) *models.Session {
	t.Helper()
	sess, err := f.svc.Create(context.Background(), f.parties.student.ID, &SessionCreateRequest{
		ProviderID:      f.parties.doctor.ID,
		Title:           "考试焦虑",
		Description:     "最近睡眠不好",
		RequestedStart:  start,
		DurationMinutes: minutes,
	})
	require.NoError(t, err)
	return sess
}

// activate 创建并接受一个会话
func (f *sessionFixture) activate(t *testing.T, start time.Time, minutes *int) *models.Session {
	t.Helper()
	sess := f.request(t, start, minutes)
	sess, err := f.svc.Respond(context.Background(), f.parties.doctor.ID, sess.ID, &SessionRespondRequest{Status: models.SessionActive})
	require.NoError(t, err)
	return sess
}
