package keyboard

import "testing"

func TestChunk(t *testing.T) {
	btns := []InlineBtn{{Text: "a"}, {Text: "b"}, {Text: "c"}}
	rows := Chunk(btns, 2)
	if len(rows) != 2 || len(rows[0]) != 2 || len(rows[1]) != 1 {
		t.Fatalf("rows = %+v", rows)
	}
	if rows := Chunk(btns, 0); len(rows) != 3 {
		t.Fatalf("n<1 should place one button per row, got %d rows", len(rows))
	}
}

func TestInlineButtonsRowsURLAndData(t *testing.T) {
	markup := InlineButtonsRows(
		[]InlineBtn{{Text: "Pay", URL: "https://pay.test/1"}},
		nil,
		[]InlineBtn{CancelButton("order_cancel")},
	)
	if len(markup.InlineKeyboard) != 2 {
		t.Fatalf("rows = %d, want 2 (empty row skipped)", len(markup.InlineKeyboard))
	}
	if got := markup.InlineKeyboard[0][0].URL; got != "https://pay.test/1" {
		t.Fatalf("url = %q", got)
	}
	if got := markup.InlineKeyboard[1][0].Unique; got != "order_cancel" {
		t.Fatalf("unique = %q", got)
	}
}
