package views

// LogSection takes the rendered log panel markup.
var LogSection = `<section class="section has-background-custom">
	<div class="container is-fluid">
		<h1 class="title">Logs</h1>
		<div class="logarea" id="logarea">
		%v
		</div>
	</div>
</section>`
