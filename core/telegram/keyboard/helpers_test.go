package keyboard

import "testing"

func TestOneTimeButtons(t *testing.T) {
	m := OneTimeButtons([]string{"Recognize", "/cancel", "Stop the bot"})
	if !m.ResizeKeyboard || !m.OneTimeKeyboard {
		t.Fatalf("flags = resize %v one_time %v", m.ResizeKeyboard, m.OneTimeKeyboard)
	}
	if len(m.ReplyKeyboard) != 1 || len(m.ReplyKeyboard[0]) != 3 {
		t.Fatalf("layout = %+v", m.ReplyKeyboard)
	}
	if m.ReplyKeyboard[0][2].Text != "Stop the bot" {
		t.Fatalf("third button = %q", m.ReplyKeyboard[0][2].Text)
	}
}

func TestRemoveKeyboard(t *testing.T) {
	if !RemoveKeyboard().RemoveKeyboard {
		t.Fatal("RemoveKeyboard flag not set")
	}
}
