package calendar

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func mustDate(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestStoreIsTradingDayWeekend(t *testing.T) {
	store, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	saturday := mustDate("2024-01-06").UnixMilli()
	if store.IsTradingDay("NYSE", saturday) {
		t.Error("expected Saturday to be a non-trading day")
	}
}

func TestStoreIsTradingDayHoliday(t *testing.T) {
	store, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	thanksgiving := Holiday{Date: mustDate("2024-11-28"), Exchange: "NYSE", Name: "Thanksgiving Day", Kind: KindClosed}
	if err := store.Upsert([]Holiday{thanksgiving}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if store.IsTradingDay("NYSE", thanksgiving.Date.UnixMilli()) {
		t.Error("expected holiday to be a non-trading day")
	}
	dayAfter := thanksgiving.Date.AddDate(0, 0, 1).UnixMilli()
	if !store.IsTradingDay("NYSE", dayAfter) {
		t.Error("expected the day after a holiday to be a trading day")
	}
}

func TestStoreEarlyClose(t *testing.T) {
	store, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	blackFriday := Holiday{
		Date: mustDate("2024-11-29"), Exchange: "NYSE", Name: "Day after Thanksgiving",
		Kind: KindEarlyClose, CloseTime: 13 * time.Hour,
	}
	if err := store.Upsert([]Holiday{blackFriday}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if !store.IsTradingDay("NYSE", blackFriday.Date.UnixMilli()) {
		t.Error("an early-close day is still a trading day")
	}
	close, ok := store.EarlyClose("NYSE", blackFriday.Date.UnixMilli())
	if !ok || close != 13*time.Hour {
		t.Errorf("EarlyClose: got %v, %v; want 13h, true", close, ok)
	}
}

func TestStorePersistence(t *testing.T) {
	dir := t.TempDir()
	h := Holiday{Date: mustDate("2024-07-04"), Exchange: "NYSE", Name: "Independence Day", Kind: KindClosed}

	s1, err := OpenStore(dir)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	if err := s1.Upsert([]Holiday{h}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	s2, err := OpenStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if s2.Count() != 1 {
		t.Fatalf("Count after reopen: got %d, want 1", s2.Count())
	}
	if s2.IsTradingDay("NYSE", h.Date.UnixMilli()) {
		t.Error("expected holiday to survive reopen")
	}
}

func TestCSVSourceFetchHolidays(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "holidays.csv")
	content := "date,exchange,name,kind,close_time\n" +
		"2024-01-01,NYSE,New Year's Day,closed,\n" +
		"2024-07-03,NYSE,Day before Independence Day,early_close,13:00\n" +
		"2024-12-25,NASDAQ,Christmas Day,closed,\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	src := NewCSVSource("test", path)
	holidays, err := src.FetchHolidays(context.Background(), mustDate("2024-01-01"), mustDate("2024-12-31"))
	if err != nil {
		t.Fatalf("FetchHolidays: %v", err)
	}
	if len(holidays) != 3 {
		t.Fatalf("FetchHolidays: got %d, want 3", len(holidays))
	}

	var early *Holiday
	for i := range holidays {
		if holidays[i].Kind == KindEarlyClose {
			early = &holidays[i]
		}
	}
	if early == nil {
		t.Fatal("expected one early_close holiday")
	}
	if early.CloseTime != 13*time.Hour {
		t.Errorf("CloseTime: got %v, want 13h", early.CloseTime)
	}
}

func TestFeedIngestMergesSources(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(dir)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}

	src1 := NewInMemorySource("src1", []Holiday{
		{Date: mustDate("2024-05-27"), Exchange: "NYSE", Name: "Memorial Day", Kind: KindClosed},
	})
	src2 := NewInMemorySource("src2", []Holiday{
		{Date: mustDate("2024-09-02"), Exchange: "NYSE", Name: "Labor Day", Kind: KindClosed},
	})

	feed := NewFeed(store, src1, src2)
	n, err := feed.Ingest(context.Background(), mustDate("2024-01-01"), mustDate("2024-12-31"))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if n != 2 {
		t.Fatalf("Ingest: got %d holidays, want 2", n)
	}
	if store.Count() != 2 {
		t.Fatalf("Count: got %d, want 2", store.Count())
	}
}
