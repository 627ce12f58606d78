// Package gate はリクエストごとのアクセス判定（許可／ログインへ／ダッシュボードへ）を提供します。
package gate

// 判定に使うパス
const (
	LoginPath     = "/login"
	SignupPath    = "/signup"
	HomePath      = "/"
	DashboardPath = "/dashboard"
)

// PathClass はパスの分類です。
type PathClass int

const (
	// ClassProtected はログインが必要なパスです。
	ClassProtected PathClass = iota
	// ClassAuthForm は未ログイン時のみ表示する認証フォーム（/login, /signup）です。
	ClassAuthForm
	// ClassOpen は誰でも表示できるパス（/）です。
	ClassOpen
)

func (p PathClass) String() string {
	switch p {
	case ClassAuthForm:
		return "auth-form"
	case ClassOpen:
		return "open"
	default:
		return "protected"
	}
}

// Classify はパスを分類します。完全一致のみで、/login/foo は保護対象です。
func Classify(path string) PathClass {
	switch path {
	case LoginPath, SignupPath:
		return ClassAuthForm
	case HomePath:
		return ClassOpen
	default:
		return ClassProtected
	}
}

// Disposition は判定結果です。ゼロ値は Allow を表します。
type Disposition struct {
	Redirect string
}

// Allow はそのまま通すことを表します。
var Allow = Disposition{}

// RedirectTo は target へのリダイレクトを表す Disposition を返します。
func RedirectTo(target string) Disposition {
	return Disposition{Redirect: target}
}

// IsAllow は通過させる判定かどうかを返します。
func (d Disposition) IsAllow() bool {
	return d.Redirect == ""
}

func (d Disposition) String() string {
	if d.IsAllow() {
		return "allow"
	}
	return "redirect:" + d.Redirect
}

// Decide はパスと認証状態から判定結果を返します。
// 判定順序に意味があるため、認証済みかどうかを先に見ます。
func Decide(path string, authenticated bool) Disposition {
	class := Classify(path)
	if authenticated {
		// ログイン済みユーザーには認証フォームを見せない
		if class == ClassAuthForm {
			return RedirectTo(DashboardPath)
		}
		return Allow
	}

	if class == ClassAuthForm || class == ClassOpen {
		return Allow
	}
	return RedirectTo(LoginPath)
}
