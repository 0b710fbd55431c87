/*
	Project: QuizBank - AI quiz generation SaaS.
	Users sign in with Clerk, generate quizzes from keywords, URLs, documents or text,
	edit, share and export them, and pay for bigger plans through Stripe.
*/
package quizbank
