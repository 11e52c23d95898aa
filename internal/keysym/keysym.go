// Package keysym defines the X11 keysym values used over the wire by the RFB
// KeyEvent message, plus the character-level tables needed to translate
// between typed text and individual key presses.
package keysym

// X11Key is an X11 keysym value, sent verbatim as the "key" field of an RFB
// KeyEvent message.
type X11Key uint32

// Keysym values for the ASCII range map directly onto their code point, per
// the X11 keysym specification (Latin-1 block mirrors ASCII/ISO-8859-1).
const (
	BackSpace X11Key = 0xff08
	Tab       X11Key = 0xff09
	Return    X11Key = 0xff0d
	Escape    X11Key = 0xff1b
	Delete    X11Key = 0xffff

	Home      X11Key = 0xff50
	Left      X11Key = 0xff51
	Up        X11Key = 0xff52
	Right     X11Key = 0xff53
	Down      X11Key = 0xff54
	Page_Up   X11Key = 0xff55
	Page_Down X11Key = 0xff56
	End       X11Key = 0xff57

	Shift_L   X11Key = 0xffe1
	Shift_R   X11Key = 0xffe2
	Control_L X11Key = 0xffe3
	Control_R X11Key = 0xffe4
	Alt_L     X11Key = 0xffe9
	Alt_R     X11Key = 0xffea
	Super_L   X11Key = 0xffeb
	Super_R   X11Key = 0xffec

	Digit_0 X11Key = '0'
	Digit_1 X11Key = '1'
	Digit_2 X11Key = '2'
	Digit_3 X11Key = '3'
	Digit_4 X11Key = '4'
	Digit_5 X11Key = '5'
	Digit_6 X11Key = '6'
	Digit_7 X11Key = '7'
	Digit_8 X11Key = '8'
	Digit_9 X11Key = '9'

	space        X11Key = ' '
	exclam       X11Key = '!'
	quotedbl     X11Key = '"'
	numbersign   X11Key = '#'
	dollar       X11Key = '$'
	percent      X11Key = '%'
	ampersand    X11Key = '&'
	apostrophe   X11Key = '\''
	parenleft    X11Key = '('
	parenright   X11Key = ')'
	asterisk     X11Key = '*'
	plus         X11Key = '+'
	comma        X11Key = ','
	minus        X11Key = '-'
	period       X11Key = '.'
	slash        X11Key = '/'
	at           X11Key = '@'
	braceleft    X11Key = '{'
	braceright   X11Key = '}'
	backslash    X11Key = '\\'
	semicolon    X11Key = ';'
	colon        X11Key = ':'
	less         X11Key = '<'
	equal        X11Key = '='
	greater      X11Key = '>'
	question     X11Key = '?'
	bracketleft  X11Key = '['
	bracketright X11Key = ']'
	asciicircum  X11Key = '^'
	underscore   X11Key = '_'
	grave        X11Key = '`'
	bar          X11Key = '|'
	asciitilde   X11Key = '~'
)

// names gives a stable, human-readable name to keysyms that need one for
// command()-style debug strings and shortcut action JSON. Letters and digits
// are named after themselves and are not listed here.
var names = map[X11Key]string{
	BackSpace: "BackSpace", Tab: "Tab", Return: "Return", Escape: "Escape",
	Delete: "Delete", Home: "Home", Left: "Left", Up: "Up", Right: "Right",
	Down: "Down", Page_Up: "Page_Up", Page_Down: "Page_Down", End: "End",
	Shift_L: "Shift_L", Shift_R: "Shift_R", Control_L: "Control_L",
	Control_R: "Control_R", Alt_L: "Alt_L", Alt_R: "Alt_R",
	Super_L: "Super_L", Super_R: "Super_R",
}

// Name returns a stable name for the keysym, falling back to the literal
// character it represents when it is a printable ASCII key without a special
// name of its own.
func (k X11Key) Name() string {
	if n, ok := names[k]; ok {
		return n
	}
	if k >= 0x20 && k <= 0x7e {
		return string(rune(k))
	}
	return "Unknown"
}

// FromRune maps a rune to the X11Key that, pressed (with Shift held for the
// shifted set below), would produce it. Only covers printable ASCII; any
// other rune returns ok=false.
func FromRune(r rune) (key X11Key, needsShift bool, ok bool) {
	if r >= 'a' && r <= 'z' {
		return X11Key(r), false, true
	}
	if r >= 'A' && r <= 'Z' {
		return X11Key(r - 'A' + 'a'), true, true
	}
	if r >= '0' && r <= '9' {
		return X11Key(r), false, true
	}
	if k, has := unshiftedPunct[r]; has {
		return k, false, true
	}
	if k, has := shiftedPunct[r]; has {
		return k, true, true
	}
	return 0, false, false
}

// unshiftedPunct covers punctuation produced by a bare keypress.
var unshiftedPunct = map[rune]X11Key{
	' ': space, '\'': apostrophe, ',': comma, '-': minus, '.': period,
	'/': slash, ';': semicolon, '=': equal, '[': bracketleft,
	']': bracketright, '\\': backslash, '`': grave,
}

// shiftedPunct covers punctuation that requires Shift on a standard US
// keyboard layout, mirroring the legacy key-name-to-character fallback table
// carried over from the recording post-processor's typed-string reconstruction.
var shiftedPunct = map[rune]X11Key{
	'!': exclam, '"': quotedbl, '#': numbersign, '$': dollar, '%': percent,
	'&': ampersand, '(': parenleft, ')': parenright, '*': asterisk,
	'+': plus, ':': colon, '<': less, '>': greater, '?': question,
	'@': at, '^': asciicircum, '_': underscore, '{': braceleft,
	'|': bar, '}': braceright, '~': asciitilde,
}

// Rune reports the character produced by pressing key, given whether Shift is
// held. Returns ok=false for non-printable keys (arrows, function keys, etc).
func Rune(key X11Key, shift bool) (r rune, ok bool) {
	if key >= 'a' && key <= 'z' {
		if shift {
			return rune(key) - 'a' + 'A', true
		}
		return rune(key), true
	}
	if key >= '0' && key <= '9' && !shift {
		return rune(key), true
	}
	for ch, k := range unshiftedPunct {
		if k == key && !shift {
			return ch, true
		}
	}
	for ch, k := range shiftedPunct {
		if k == key && shift {
			return ch, true
		}
	}
	return 0, false
}

// LegacyKeyNameToChar mirrors the recording post-processor's fallback table
// for reconstructing typed text from a bare sequence of key names, used only
// when a recording predates full UTF-8 text capture.
var LegacyKeyNameToChar = map[string]rune{
	"space": ' ', "exclam": '!', "quotedbl": '"', "numbersign": '#',
	"dollar": '$', "percent": '%', "ampersand": '&', "apostrophe": '\'',
	"quoteright": '\'', "parenleft": '(', "parenright": ')', "asterisk": '*',
	"plus": '+', "comma": ',', "minus": '-', "period": '.', "slash": '/',
	"at": '@', "braceleft": '{', "braceright": '}', "backslash": '\\',
	"semicolon": ';', "colon": ':', "less": '<', "equal": '=', "greater": '>',
	"question": '?', "bracketleft": '[', "bracketright": ']',
	"asciicircum": '^', "underscore": '_', "grave": '`', "quoteleft": '`',
	"bar": '|', "asciitilde": '~', "hyphen": '-',
	"Digit_0": '0', "Digit_1": '1', "Digit_2": '2', "Digit_3": '3',
	"Digit_4": '4', "Digit_5": '5', "Digit_6": '6', "Digit_7": '7',
	"Digit_8": '8', "Digit_9": '9',
}
