package password

// commonPasswords is a small embedded block list of passwords that appear at
// the top of public breach corpora. Lookups are done on the lowercased
// candidate. The list is deliberately short: the strength checks catch the
// long tail, this catches the exact strings people actually type.
var commonPasswords = map[string]struct{}{
	"password":    {},
	"password1":   {},
	"password123": {},
	"passw0rd":    {},
	"p@ssword":    {},
	"p@ssw0rd":    {},
	"123456":      {},
	"1234567":     {},
	"12345678":    {},
	"123456789":   {},
	"1234567890":  {},
	"12345":       {},
	"qwerty":      {},
	"qwerty123":   {},
	"qwertyuiop":  {},
	"abc123":      {},
	"abcd1234":    {},
	"111111":      {},
	"11111111":    {},
	"000000":      {},
	"letmein":     {},
	"welcome":     {},
	"welcome1":    {},
	"admin":       {},
	"admin123":    {},
	"administrator": {},
	"root":        {},
	"toor":        {},
	"login":       {},
	"master":      {},
	"monkey":      {},
	"dragon":      {},
	"shadow":      {},
	"sunshine":    {},
	"princess":    {},
	"superman":    {},
	"batman":      {},
	"trustno1":    {},
	"iloveyou":    {},
	"lovely":      {},
	"football":    {},
	"baseball":    {},
	"soccer":      {},
	"hockey":      {},
	"starwars":    {},
	"pokemon":     {},
	"computer":    {},
	"internet":    {},
	"samsung":     {},
	"google":      {},
	"hello123":    {},
	"charlie":     {},
	"freedom":     {},
	"whatever":    {},
	"secret":      {},
	"hunter2":     {},
	"ninja":       {},
	"azerty":      {},
	"zaq12wsx":    {},
	"1q2w3e4r":    {},
	"1qaz2wsx":    {},
	"qazwsx":      {},
	"asdfgh":      {},
	"asdfghjkl":   {},
	"zxcvbnm":     {},
	"password!":   {},
	"changeme":    {},
	"default":     {},
	"guest":       {},
	"test123":     {},
	"temp123":     {},
}

// keyboardRows are physical key sequences scanned for three-character runs
// in either direction.
var keyboardRows = []string{
	"1234567890",
	"qwertyuiop",
	"asdfghjkl",
	"zxcvbnm",
}

func isCommonPassword(lower string) bool {
	_, ok := commonPasswords[lower]
	return ok
}
