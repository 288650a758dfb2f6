// Package inmemdb stores everything in memory; used by tests and local demos.
package inmemdb

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/chat"
	"github.com/trezcool/campus/core/document"
	"github.com/trezcool/campus/core/enrollment"
	"github.com/trezcool/campus/core/guidance"
	"github.com/trezcool/campus/core/payment"
	"github.com/trezcool/campus/core/section"
	"github.com/trezcool/campus/core/student"
	"github.com/trezcool/campus/core/user"
)

// Tables are always locked in this order: user, student, section, enrollment,
// payment, guidance, document, chat.
type (
	DB struct {
		user       *userTable
		student    *studentTable
		section    *sectionTable
		enrollment *enrollmentTable
		payment    *paymentTable
		guidance   *guidanceTable
		document   *documentTable
		chat       *chatTable
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}

	studentTable struct {
		sync.RWMutex
		table     map[string]*student.Student
		guardians map[string][]string // {studentID: guardianIDs}
	}

	sectionTable struct {
		sync.RWMutex
		table map[string]*section.Section
	}

	enrollmentTable struct {
		sync.RWMutex
		table  map[string]*enrollment.Enrollment
		refSeq int64
	}

	paymentTable struct {
		sync.RWMutex
		table map[string]*payment.Payment
	}

	guidanceTable struct {
		sync.RWMutex
		table map[string]*guidance.Record
		notes map[string][]guidance.Note // {recordID: notes}
	}

	documentTable struct {
		sync.RWMutex
		table map[string]*document.Document
	}

	chatTable struct {
		sync.RWMutex
		conversations map[string]*chat.Conversation
		lastRead      map[string]map[string]time.Time // {conversationID: {userID: lastReadAt}}
		messages      map[string][]chat.Message       // {conversationID: messages}
		presence      map[string]chat.Presence
	}
)

func Open() *DB {
	return &DB{
		user: &userTable{table: make(map[string]*user.User)},
		student: &studentTable{
			table:     make(map[string]*student.Student),
			guardians: make(map[string][]string),
		},
		section:    &sectionTable{table: make(map[string]*section.Section)},
		enrollment: &enrollmentTable{table: make(map[string]*enrollment.Enrollment)},
		payment:    &paymentTable{table: make(map[string]*payment.Payment)},
		guidance: &guidanceTable{
			table: make(map[string]*guidance.Record),
			notes: make(map[string][]guidance.Note),
		},
		document: &documentTable{table: make(map[string]*document.Document)},
		chat: &chatTable{
			conversations: make(map[string]*chat.Conversation),
			lastRead:      make(map[string]map[string]time.Time),
			messages:      make(map[string][]chat.Message),
			presence:      make(map[string]chat.Presence),
		},
	}
}

// comparators compare two rows on a column.
type comparators[T any] map[string]func(a, b T) int

// orderRows sorts rows by ordering; by created_at when no ordering is given.
func orderRows[T any](rows []T, ordering []core.DBOrdering, cmps comparators[T]) {
	if len(ordering) == 0 {
		if _, ok := cmps["created_at"]; !ok {
			return
		}
		ordering = []core.DBOrdering{{Field: "created_at", Ascending: true}}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, ord := range ordering {
			cmp, ok := cmps[ord.Field]
			if !ok {
				continue
			}
			if c := cmp(rows[i], rows[j]); c != 0 {
				if ord.Ascending {
					return c < 0
				}
				return c > 0
			}
		}
		return false
	})
}

func paginate[T any](rows []T, page core.Page) []T {
	if page.Offset >= len(rows) {
		return rows[:0]
	}
	rows = rows[page.Offset:]
	if page.Limit > 0 && page.Limit < len(rows) {
		rows = rows[:page.Limit]
	}
	return rows
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func copyStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append(make([]string, 0, len(s)), s...)
}
